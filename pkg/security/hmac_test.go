package security_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/angelmondragon/orderflow-backend/pkg/security"
)

func TestSignHexMatchesKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got, err := security.SignHex("Jefe", []byte("what do ya want for nothing?"))
	if err != nil {
		t.Fatalf("SignHex returned error: %v", err)
	}
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("unexpected digest %s", got)
	}
}

func TestVerifyHex(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"id":"pay_1"}}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !security.VerifyHex("whsec", body, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if !security.VerifyHex("whsec", body, " "+strings.ToUpper(sig)+" ") {
		t.Fatal("expected signature comparison to ignore case and padding")
	}
	if security.VerifyHex("other", body, sig) {
		t.Fatal("expected wrong secret to fail")
	}
	reserialized := []byte(`{"event": "payment.captured", "payload": {"id": "pay_1"}}`)
	if security.VerifyHex("whsec", reserialized, sig) {
		t.Fatal("expected reformatted body to fail verification")
	}
	if security.VerifyHex("", body, sig) {
		t.Fatal("expected empty secret to fail")
	}
	if security.VerifyHex("whsec", body, sig[:10]) {
		t.Fatal("expected truncated signature to fail")
	}
}

func TestConfirmationMessage(t *testing.T) {
	if got := string(security.ConfirmationMessage("int_1", "txn_9")); got != "int_1|txn_9" {
		t.Fatalf("unexpected message %q", got)
	}
}
