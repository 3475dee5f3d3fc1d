package domain

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1.00", 100, false},
		{"0.10", 10, false},
		{"500", 50000, false},
		{"19.99", 1999, false},
		{"0", 0, true},
		{"-5.00", 0, true},
		{"1.005", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseAmount(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(1999); got != "19.99" {
		t.Errorf("FormatAmount(1999) = %q, want 19.99", got)
	}
	if got := FormatAmount(5); got != "0.05" {
		t.Errorf("FormatAmount(5) = %q, want 0.05", got)
	}
}

func TestHoldTransitions(t *testing.T) {
	cases := []struct {
		from, to HoldStatus
		ok       bool
	}{
		{HoldAuthorized, HoldFundsHeld, true},
		{HoldAuthorized, HoldDelivered, true},
		{HoldAuthorized, HoldCancelledTimeout, true},
		{HoldFundsHeld, HoldDelivered, true},
		{HoldFundsHeld, HoldCancelledError, true},
		{HoldFundsHeld, HoldPaid, true},
		{HoldFundsHeld, HoldAuthorized, false},
		{HoldDelivered, HoldCancelledError, false},
		{HoldCancelledTimeout, HoldDelivered, false},
		{HoldPaid, HoldFundsHeld, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []HoldStatus{HoldDelivered, HoldPaid, HoldCancelledTimeout, HoldCancelledError} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []HoldStatus{HoldAuthorized, HoldFundsHeld} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
