package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/tolelom/loopcore/timer"
)

func TestStartFiresAfterDuration(t *testing.T) {
	svc := timer.New()
	var fired int32
	svc.Start("a", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && atomic.LoadInt32(&fired) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected timer to fire once, fired=%d", fired)
	}
}

func TestStartUnderSameKeyReplacesPrior(t *testing.T) {
	svc := timer.New()
	var firedFirst, firedSecond int32
	svc.Start("a", 20*time.Millisecond, func() { atomic.AddInt32(&firedFirst, 1) })
	svc.Start("a", 20*time.Millisecond, func() { atomic.AddInt32(&firedSecond, 1) })

	time.Sleep(200 * time.Millisecond)
	if atomic.LoadInt32(&firedFirst) != 0 {
		t.Fatal("expected the first timer under the same key to have been canceled")
	}
	if atomic.LoadInt32(&firedSecond) != 1 {
		t.Fatal("expected the second timer to fire")
	}
}

func TestStopCancelsBeforeFire(t *testing.T) {
	svc := timer.New()
	var fired int32
	svc.Start("a", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	svc.Stop("a")

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("expected Stop to prevent the timer from firing")
	}
}

func TestStopUnknownKeyIsNoop(t *testing.T) {
	svc := timer.New()
	svc.Stop("never-armed")
}

func TestStopAllCancelsEverything(t *testing.T) {
	svc := timer.New()
	var fired int32
	svc.Start("a", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	svc.Start("b", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	svc.StopAll()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("expected StopAll to prevent every armed timer from firing")
	}
}
