package backoff

import (
	"testing"
	"time"

	"github.com/lumen-data/firestream/internal/queue"
)

func TestFirstRunFiresImmediately(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	c := New(q, DefaultConfig())

	start := time.Now()
	done := make(chan struct{})
	c.RunAfterDelay(func() { close(done) })

	select {
	case <-done:
		if time.Since(start) > 50*time.Millisecond {
			t.Fatalf("expected immediate first fire")
		}
	case <-time.After(time.Second):
		t.Fatal("first RunAfterDelay never fired")
	}
}

func TestDelayGrowsMonotonically(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	c := New(q, Config{InitialDelay: 10 * time.Millisecond, Factor: 2, MaxDelay: time.Second})

	c.RunAfterDelay(func() {})
	d1 := c.CurrentDelay()
	c.RunAfterDelay(func() {})
	d2 := c.CurrentDelay()

	if d1 != 10*time.Millisecond {
		t.Fatalf("expected first delay to equal initial delay, got %v", d1)
	}
	if d2 <= d1 {
		t.Fatalf("expected delay to grow, got d1=%v d2=%v", d1, d2)
	}
}

func TestDelaySaturatesAtMax(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	c := New(q, Config{InitialDelay: 10 * time.Millisecond, Factor: 10, MaxDelay: 50 * time.Millisecond})

	for i := 0; i < 5; i++ {
		c.RunAfterDelay(func() {})
	}
	if c.CurrentDelay() != 50*time.Millisecond {
		t.Fatalf("expected delay capped at max, got %v", c.CurrentDelay())
	}
}

func TestResetZeroesDelay(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	c := New(q, Config{InitialDelay: 10 * time.Millisecond, Factor: 2, MaxDelay: time.Second})

	c.RunAfterDelay(func() {})
	c.RunAfterDelay(func() {})
	if c.CurrentDelay() == 0 {
		t.Fatal("expected delay to have grown before reset")
	}

	c.Reset()
	if c.CurrentDelay() != 0 {
		t.Fatalf("expected delay reset to zero, got %v", c.CurrentDelay())
	}
}

func TestResetToMaxSaturates(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	c := New(q, Config{InitialDelay: time.Second, Factor: 1.5, MaxDelay: 60 * time.Second})

	c.ResetToMax()
	if c.CurrentDelay() != 60*time.Second {
		t.Fatalf("expected delay saturated to max, got %v", c.CurrentDelay())
	}
}

func TestCancelPreventsPendingTaskFromRunning(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	c := New(q, Config{InitialDelay: 20 * time.Millisecond, Factor: 2, MaxDelay: time.Second})

	c.RunAfterDelay(func() {})
	fired := make(chan struct{}, 1)
	c.RunAfterDelay(func() { fired <- struct{}{} })
	c.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled task fired")
	case <-time.After(200 * time.Millisecond):
	}
}
