package gradtts

// Schedule is the linear variance-preserving noise schedule
// beta(t) = BetaMin + (BetaMax-BetaMin)*t on t in [0, 1].
type Schedule struct {
	BetaMin, BetaMax float64
}

// Noise returns the instantaneous noise level beta(t).
func (s Schedule) Noise(t float64) float64 {
	return s.BetaMin + (s.BetaMax-s.BetaMin)*t
}

// CumulativeNoise returns the integral of beta over [0, t].
func (s Schedule) CumulativeNoise(t float64) float64 {
	return s.BetaMin*t + 0.5*(s.BetaMax-s.BetaMin)*t*t
}
