package publisher

import "testing"

func TestMatchLiteralAndWildcard(t *testing.T) {
	l1btc := NewSubscription("l1.BTCUSDT", false)
	tradeAny := NewSubscription("trade.*", false)

	cases := []struct {
		topic string
		l1    bool
		trade bool
	}{
		{"trade.ETHUSDT", false, true},
		{"l1.BTCUSDT", true, false},
		{"l1.ETHUSDT", false, false},
	}
	for _, c := range cases {
		if got := l1btc.Match(c.topic); got != c.l1 {
			t.Errorf("l1.BTCUSDT.Match(%q) = %v, want %v", c.topic, got, c.l1)
		}
		if got := tradeAny.Match(c.topic); got != c.trade {
			t.Errorf("trade.*.Match(%q) = %v, want %v", c.topic, got, c.trade)
		}
	}
}

func TestGlobRequiresNonEmptySubstring(t *testing.T) {
	sub := NewSubscription("l1.*", false)
	if !sub.Match("l1.BTCUSDT") {
		t.Error("expected l1.* to match l1.BTCUSDT")
	}
	if sub.Match("l2.BTCUSDT") {
		t.Error("l1.* must not match l2.BTCUSDT")
	}
	if sub.Match("l1.") {
		t.Error("l1.* must not match l1. — * requires a non-empty substring")
	}
}
