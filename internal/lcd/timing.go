package lcd

import "time"

// timer tracks the time of the previous frame completion. Every completion
// resets it, valid or not.
type timer struct {
	now  func() time.Time
	last time.Time
}

func newTimer(now func() time.Time) *timer {
	return &timer{now: now, last: now()}
}

// mark records a completion and returns the time since the previous one.
func (t *timer) mark() (time.Time, time.Duration) {
	cur := t.now()
	d := cur.Sub(t.last)
	if d < 0 {
		d = 0
	}
	t.last = cur
	return cur, d
}
