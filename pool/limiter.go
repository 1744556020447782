package pool

// Limiter bounds how many detections run at once. There is no queue behind
// it: when every slot is taken, TryAcquire fails and the caller rejects the
// request instead of letting in-flight work grow without bound.
type Limiter struct {
	sem chan struct{}
}

func NewLimiter(maxInFlight int) *Limiter {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Limiter{
		sem: make(chan struct{}, maxInFlight),
	}
}

func (l *Limiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *Limiter) Release() {
	<-l.sem
}
