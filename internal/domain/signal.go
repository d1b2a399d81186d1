package domain

// Direction is one strategy's (or the ensemble's) directional opinion.
type Direction string

const (
	StrongBuy  Direction = "STRONG_BUY"
	Buy        Direction = "BUY"
	Neutral    Direction = "NEUTRAL"
	Sell       Direction = "SELL"
	StrongSell Direction = "STRONG_SELL"
)

// Strength maps a direction to its integer score in [-2, 2].
func (d Direction) Strength() int {
	switch d {
	case StrongBuy:
		return 2
	case Buy:
		return 1
	case Sell:
		return -1
	case StrongSell:
		return -2
	default:
		return 0
	}
}

func (d Direction) IsBullish() bool {
	return d == Buy || d == StrongBuy
}

func (d Direction) IsBearish() bool {
	return d == Sell || d == StrongSell
}

// Side returns the order side this direction maps to, or "" for Neutral.
func (d Direction) Side() Side {
	switch {
	case d.IsBullish():
		return SideLong
	case d.IsBearish():
		return SideShort
	default:
		return ""
	}
}

// Signal is one strategy's opinion for one symbol at one instant.
// Suggested levels are optional; zero means "not provided".
type Signal struct {
	Strategy        string
	Symbol          string
	Direction       Direction
	Confidence      float64 // 0..1
	SuggestedEntry  float64
	SuggestedStop   float64
	SuggestedTarget float64
	Reason          string
}

// RiskReward returns reward/risk from the suggested levels, or 0 when the
// levels are absent or degenerate.
func (s Signal) RiskReward() float64 {
	if s.SuggestedEntry == 0 || s.SuggestedStop == 0 || s.SuggestedTarget == 0 {
		return 0
	}
	risk := abs(s.SuggestedEntry - s.SuggestedStop)
	if risk == 0 {
		return 0
	}
	return abs(s.SuggestedTarget-s.SuggestedEntry) / risk
}

// AggregatedDecision is the merged opinion from all registered strategies
// for one symbol. Derived per tick, never persisted.
type AggregatedDecision struct {
	Symbol     string
	Direction  Direction
	Strength   float64 // weighted mean of contributor strengths
	Confidence float64 // weighted mean of contributor confidences
	// MaxConfidence is the highest confidence among non-neutral
	// contributors. The chosen stop/target come from that contributor, so
	// admission gates against this value, not the weighted mean.
	MaxConfidence float64
	ChosenStop    float64
	ChosenTarget  float64
	Contributors  int
	Reason        string
}

// RiskReward computes reward/risk for the decision at the given price.
func (d AggregatedDecision) RiskReward(price float64) float64 {
	if d.ChosenStop == 0 || d.ChosenTarget == 0 {
		return 0
	}
	risk := abs(price - d.ChosenStop)
	if risk == 0 {
		return 0
	}
	return abs(d.ChosenTarget-price) / risk
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
