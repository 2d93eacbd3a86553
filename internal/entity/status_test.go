package entity

import "testing"

func TestOrderStatusAdvancesForwardOnly(t *testing.T) {
	all := []OrderStatus{OrderStatusCreated, OrderStatusProcessing, OrderStatusProcessed}
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusCreated, OrderStatusProcessing}:   true,
		{OrderStatusProcessing, OrderStatusProcessed}: true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]OrderStatus{from, to}]
			if got := from.CanAdvanceTo(to); got != want {
				t.Fatalf("%s -> %s: want=%v got=%v", from, to, want, got)
			}
		}
	}
	if OrderStatus("DONE").IsValid() {
		t.Fatalf("unknown status should be invalid")
	}
}

func TestVoucherStatusAdvancesForwardOnly(t *testing.T) {
	all := []VoucherStatus{VoucherStatusCreated, VoucherStatusAllotted, VoucherStatusProcessed}
	allowed := map[[2]VoucherStatus]bool{
		{VoucherStatusCreated, VoucherStatusAllotted}:   true,
		{VoucherStatusAllotted, VoucherStatusProcessed}: true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]VoucherStatus{from, to}]
			if got := from.CanAdvanceTo(to); got != want {
				t.Fatalf("%s -> %s: want=%v got=%v", from, to, want, got)
			}
		}
	}
}

func TestRetryMarkExhausts(t *testing.T) {
	cases := []struct {
		name  string
		mark  RetryMark
		count int
		want  bool
	}{
		{"unbounded", RetryMark{}, 100, false},
		{"below ceiling", RetryMark{MaxAttempts: 3}, 1, false},
		{"reaches ceiling", RetryMark{MaxAttempts: 3}, 2, true},
		{"permanent", RetryMark{Permanent: true}, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.mark.Exhausts(tc.count); got != tc.want {
				t.Fatalf("want=%v got=%v", tc.want, got)
			}
		})
	}
}

func TestParseIDType(t *testing.T) {
	if got, ok := ParseIDType(" PAN "); !ok || got != IDTypePAN {
		t.Fatalf("want PAN got=%q ok=%v", got, ok)
	}
	if _, ok := ParseIDType("pan"); ok {
		t.Fatalf("matching is case sensitive")
	}
	if _, ok := ParseIDType("RATION_CARD"); ok {
		t.Fatalf("unexpected id type accepted")
	}
}
