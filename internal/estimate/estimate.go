package estimate

import "math"

const (
	DefaultFloorMinutes    = 5.0
	DefaultSafetyFactor    = 1.2
	DefaultRoundingMinutes = 5
)

// Policy holds the tuning constants of the wait estimate. They are
// operator policy, not derived from data.
type Policy struct {
	FloorMinutes    float64
	SafetyFactor    float64
	RoundingMinutes int
}

func DefaultPolicy() Policy {
	return Policy{
		FloorMinutes:    DefaultFloorMinutes,
		SafetyFactor:    DefaultSafetyFactor,
		RoundingMinutes: DefaultRoundingMinutes,
	}
}

func (p Policy) normalized() Policy {
	if p.FloorMinutes <= 0 {
		p.FloorMinutes = DefaultFloorMinutes
	}
	if p.SafetyFactor <= 0 {
		p.SafetyFactor = DefaultSafetyFactor
	}
	if p.RoundingMinutes <= 0 {
		p.RoundingMinutes = DefaultRoundingMinutes
	}
	return p
}

// Estimate returns the expected wait in minutes for a guest with
// position parties ahead of them, rounded up to the policy unit.
func (p Policy) Estimate(position int, averageServiceMinutes float64) int {
	if position <= 0 {
		return 0
	}
	p = p.normalized()
	perParty := math.Max(averageServiceMinutes, p.FloorMinutes)
	unit := float64(p.RoundingMinutes)
	raw := float64(position) * perParty * p.SafetyFactor / unit
	// 1.2 is not exact in binary; trim float noise before rounding up.
	raw = math.Round(raw*1e9) / 1e9
	return int(math.Ceil(raw)) * p.RoundingMinutes
}

func Estimate(position int, averageServiceMinutes float64) int {
	return DefaultPolicy().Estimate(position, averageServiceMinutes)
}
