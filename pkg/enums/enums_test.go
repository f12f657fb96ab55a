package enums

import "testing"

func TestOrderStatusTerminalSets(t *testing.T) {
	closed := map[OrderStatus]bool{
		OrderStatusCancelled:       true,
		OrderStatusReturnRequested: true,
		OrderStatusReplaced:        true,
	}
	for _, status := range validOrderStatuses {
		if got := status.IsClosed(); got != closed[status] {
			t.Fatalf("%s IsClosed=%v want %v", status, got, closed[status])
		}
	}
	if !OrderStatusDelivered.IsTerminal() || OrderStatusDelivered.IsClosed() {
		t.Fatalf("delivered must be terminal but not closed")
	}
}

func TestParseHelpers(t *testing.T) {
	if _, err := ParseOrderStatus("PACKED"); err != nil {
		t.Fatalf("parse order status: %v", err)
	}
	if _, err := ParseOrderStatus("packed"); err == nil {
		t.Fatal("expected lowercase status to be rejected")
	}
	if _, err := ParseActorRole("super_admin"); err != nil {
		t.Fatalf("parse role: %v", err)
	}
	if _, err := ParseQueueName("bogus"); err == nil {
		t.Fatal("expected unknown queue to fail")
	}
	if _, err := ParsePaymentMode("COD"); err != nil {
		t.Fatalf("parse payment mode: %v", err)
	}
}

func TestPaymentStatusSettled(t *testing.T) {
	if !PaymentStatusSuccess.IsSettled() || !PaymentStatusRefunded.IsSettled() {
		t.Fatal("success and refunded are settled")
	}
	if PaymentStatusPending.IsSettled() || PaymentStatusFailed.IsSettled() {
		t.Fatal("pending and failed are not settled")
	}
}
