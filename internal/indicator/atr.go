package indicator

// ATR is Wilder's average true range. The first value is a simple average
// of the first `period` true ranges; afterwards the standard smoothing
// recurrence applies.
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	count     int
	sum       float64
	value     float64
	ready     bool
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Update(high, low, close float64) (float64, bool) {
	tr := a.trueRange(high, low)
	a.prevClose = close
	a.hasPrev = true
	a.count++

	if !a.ready {
		a.sum += tr
		if a.count < a.period {
			return 0, false
		}
		a.value = a.sum / float64(a.period)
		a.ready = true
		return a.value, true
	}

	n := float64(a.period)
	a.value = (a.value*(n-1) + tr) / n
	return a.value, true
}

func (a *ATR) trueRange(high, low float64) float64 {
	hl := high - low
	if !a.hasPrev {
		return hl
	}
	hc := abs(high - a.prevClose)
	lc := abs(low - a.prevClose)
	return max3(hl, hc, lc)
}

func (a *ATR) Value() (float64, bool) {
	return a.value, a.ready
}

func (a *ATR) Ready() bool {
	return a.ready
}

func (a *ATR) Reset() {
	*a = ATR{period: a.period}
}

// VolatilityLevel classifies the current regime from ATR as a percentage
// of price.
type VolatilityLevel int

const (
	VolatilityLow VolatilityLevel = iota
	VolatilityMedium
	VolatilityHigh
	VolatilityExtreme
)

func (v VolatilityLevel) String() string {
	switch v {
	case VolatilityLow:
		return "low"
	case VolatilityMedium:
		return "medium"
	case VolatilityHigh:
		return "high"
	default:
		return "extreme"
	}
}

// SizeFactor is the position-size multiplier for the regime: sizes shrink
// as volatility rises because the stop distance may lag the move.
func (v VolatilityLevel) SizeFactor() float64 {
	switch v {
	case VolatilityLow:
		return 1.2
	case VolatilityMedium:
		return 1.0
	case VolatilityHigh:
		return 0.7
	default:
		return 0.5
	}
}

// Level returns the volatility regime at the given price, and false while
// the ATR is still warming up.
func (a *ATR) Level(price float64) (VolatilityLevel, bool) {
	if !a.ready || price <= 0 {
		return VolatilityMedium, false
	}
	atrPct := a.value / price * 100
	switch {
	case atrPct > 5:
		return VolatilityExtreme, true
	case atrPct > 3:
		return VolatilityHigh, true
	case atrPct > 1:
		return VolatilityMedium, true
	default:
		return VolatilityLow, true
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
