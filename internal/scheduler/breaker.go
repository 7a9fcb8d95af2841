package scheduler

// breaker counts consecutive failures of one module within one scan. Once
// open it stays open; it is never shared between scans.
type breaker struct {
	max         int
	consecutive int
	open        bool
}

func newBreaker(max int) *breaker {
	if max <= 0 {
		max = DefaultMaxConsecutiveFailures
	}
	return &breaker{max: max}
}

func (b *breaker) Open() bool {
	return b.open
}

func (b *breaker) Success() {
	if !b.open {
		b.consecutive = 0
	}
}

// Failure records a failure and reports whether it opened the breaker.
func (b *breaker) Failure() bool {
	if b.open {
		return false
	}
	b.consecutive++
	if b.consecutive >= b.max {
		b.open = true
		return true
	}
	return false
}
