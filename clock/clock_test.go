package clock_test

import (
	"testing"

	"github.com/itoxiq/triplit/clock"
)

func TestHLCMonotoneWithinSameNanosecond(t *testing.T) {
	c := clock.NewHLC("client-a")
	var last clock.Timestamp
	for i := 0; i < 1000; i++ {
		ts := c.Now()
		if i > 0 && !ts.After(last) {
			t.Fatalf("timestamp %v did not order after previous %v", ts, last)
		}
		last = ts
	}
}

func TestCompareOrdersByTickThenClientID(t *testing.T) {
	a := clock.Timestamp{Tick: 5, ClientID: "a"}
	b := clock.Timestamp{Tick: 5, ClientID: "b"}
	if !a.Before(b) {
		t.Fatalf("expected %v before %v", a, b)
	}
	c := clock.Timestamp{Tick: 6, ClientID: "a"}
	if !b.Before(c) {
		t.Fatalf("expected %v before %v", b, c)
	}
}

func TestObserveAdvancesClock(t *testing.T) {
	c := clock.NewHLC("client-a")
	future := clock.Timestamp{Tick: 9_999_999_999_999, ClientID: "client-b"}
	c.Observe(future)
	next := c.Now()
	if !next.After(future) {
		t.Fatalf("expected clock to advance past observed timestamp %v, got %v", future, next)
	}
}
