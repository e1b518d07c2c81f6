package connectivity

import (
	"testing"
	"time"
)

// neighborLifetime reproduces the formula handleBeaconReceive applies to
// a received beacon (spec.md §4.4: "lifetime = now + (interval + ε) *
// LOSS_MAX"). Kept here, alongside the test, as the single place that
// formula is pinned down independent of socket wiring.
func neighborLifetime(intervalSeconds uint8, lossMax int) time.Duration {
	lifetime := time.Duration(intervalSeconds)*time.Second + epsilon
	return lifetime * time.Duration(lossMax)
}

// TestNeighborLifetimeDefaultLossMax covers spec.md §8 testable property 4
// and the E4 scenario: with the default LOSS_MAX=3 and ε=1s, a 2s-interval
// beacon yields a lifetime of exactly 3*(2+1)=9s, the upper bound E4 gives
// for when the peer's interface must be removed after beacons stop.
func TestNeighborLifetimeDefaultLossMax(t *testing.T) {
	got := neighborLifetime(2, 3)
	want := 9 * time.Second
	if got != want {
		t.Errorf("neighborLifetime(2, 3) = %v, want %v", got, want)
	}
}

func TestNeighborLifetimeScalesWithInterval(t *testing.T) {
	shortLifetime := neighborLifetime(1, 3)
	longLifetime := neighborLifetime(5, 3)
	if longLifetime <= shortLifetime {
		t.Errorf("lifetime must grow with beacon interval: %v vs %v", shortLifetime, longLifetime)
	}
	if want := 6 * time.Second; shortLifetime != want {
		t.Errorf("neighborLifetime(1, 3) = %v, want %v", shortLifetime, want)
	}
}

func TestNeighborLifetimeNeverBelowOneInterval(t *testing.T) {
	// spec.md §8 property 4: lifetime must never drop below one interval.
	for _, interval := range []uint8{1, 2, 10, 30} {
		lt := neighborLifetime(interval, 3)
		if lt < time.Duration(interval)*time.Second {
			t.Errorf("neighborLifetime(%d, 3) = %v, below one interval", interval, lt)
		}
	}
}
