package exchange

import (
	"testing"
	"time"
)

func TestNextAttempt_CountsConsecutiveFailures(t *testing.T) {
	attempt := 0
	for i := 1; i <= 5; i++ {
		attempt = nextAttempt(attempt, time.Second)
		if attempt != i {
			t.Fatalf("after %d quick drops: attempt = %d, want %d", i, attempt, i)
		}
	}
}

func TestNextAttempt_ResetsAfterHealthyConnection(t *testing.T) {
	// A feed that disconnects occasionally but holds its connection in
	// between keeps reconnecting indefinitely. Only an unbroken run of
	// quick failures exhausts the budget.
	attempt := 0
	for i := 0; i < 100; i++ {
		attempt = nextAttempt(attempt, healthyConnAge+time.Minute)
		if attempt != 1 {
			t.Fatalf("drop %d after a healthy connection: attempt = %d, want 1", i, attempt)
		}
	}

	// A quick failure right after the reset counts from there.
	attempt = nextAttempt(attempt, 0)
	if attempt != 2 {
		t.Errorf("quick drop after reset: attempt = %d, want 2", attempt)
	}
}
