package solver

// MinScheduledRate is the floor below which a schedule never decays
// the learning rate.
const MinScheduledRate float64 = 1e-8

// LinearSchedule linearly anneals a learning rate from Base to
// MinScheduledRate over Horizon timesteps.
type LinearSchedule struct {
	Base    float64
	Horizon int
}

// NewLinearSchedule returns a schedule decaying base to nearly zero
// over horizon timesteps.
func NewLinearSchedule(base float64, horizon int) LinearSchedule {
	return LinearSchedule{Base: base, Horizon: horizon}
}

// Rate returns the learning rate at timestep t.
func (l LinearSchedule) Rate(t int) float64 {
	if l.Horizon <= 0 {
		return l.Base
	}
	frac := 1.0 - float64(t)/float64(l.Horizon)
	rate := l.Base * frac
	if rate < MinScheduledRate {
		return MinScheduledRate
	}
	return rate
}
