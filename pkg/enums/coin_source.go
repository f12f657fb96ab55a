package enums

import "fmt"

// CoinSource tags why a coin ledger entry was written.
type CoinSource string

const (
	CoinSourceReferral       CoinSource = "referral"
	CoinSourceOrderReward    CoinSource = "order_reward"
	CoinSourceAdminCredit    CoinSource = "admin_credit"
	CoinSourceOrderPayment   CoinSource = "order_payment"
	CoinSourceBannerPurchase CoinSource = "banner_purchase"
)

var validCoinSources = []CoinSource{
	CoinSourceReferral,
	CoinSourceOrderReward,
	CoinSourceAdminCredit,
	CoinSourceOrderPayment,
	CoinSourceBannerPurchase,
}

// IsValid reports whether the value is a known CoinSource.
func (s CoinSource) IsValid() bool {
	for _, candidate := range validCoinSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCoinSource converts raw input into a CoinSource.
func ParseCoinSource(value string) (CoinSource, error) {
	for _, candidate := range validCoinSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coin source %q", value)
}
