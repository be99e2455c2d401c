package mission

import (
	"fmt"
	"math"

	"lukechampine.com/blake3"

	"starhold/pkg/types"
)

// ExpeditionResult is what a fleet found in deep space.
type ExpeditionResult struct {
	Outcome types.Outcome
	Note    string
	Cargo   types.Resources
	Ships   map[types.UnitID]int
}

// rollExpedition is a pure deterministic roll over the mission identity and
// arrival time: the same mission always finds the same thing, so a replayed
// arrival cannot re-roll its luck.
func rollExpedition(m *types.FleetMission) ExpeditionResult {
	sum := blake3.Sum256([]byte(fmt.Sprintf("expedition:%s:%d", m.ID, m.ArrivalTime.UnixNano())))
	roll := float64(sum[0]) / 255
	pick := float64(sum[1]) / 255
	scale := 0.2 + 0.6*float64(sum[2])/255

	// A pathfinder reads the void better.
	nothing := 0.40
	if m.Ships[types.Pathfinder] > 0 {
		nothing = 0.20
	}
	if roll < nothing {
		return ExpeditionResult{
			Outcome: types.OutcomeNeutral,
			Note:    "the expedition found nothing but empty space",
		}
	}

	capacity := CargoCapacity(m.Ships)
	switch {
	case pick < 0.45:
		haul := math.Floor(capacity * scale)
		return ExpeditionResult{
			Outcome: types.OutcomeSuccess,
			Note:    "the expedition stumbled on a drifting resource cache",
			Cargo: types.Resources{
				Metal:     math.Floor(haul * 0.6),
				Crystal:   math.Floor(haul * 0.3),
				Deuterium: math.Floor(haul * 0.1),
			},
		}
	case pick < 0.70:
		found := 1 + m.ShipCount()/10
		return ExpeditionResult{
			Outcome: types.OutcomeSuccess,
			Note:    fmt.Sprintf("derelict hulls recovered: %d light fighters", found),
			Ships:   map[types.UnitID]int{types.LightFighter: found},
		}
	case pick < 0.90:
		dm := math.Floor(50 + 150*scale)
		return ExpeditionResult{
			Outcome: types.OutcomeSuccess,
			Note:    "a dark matter pocket was siphoned",
			Cargo:   types.Resources{DarkMatter: dm},
		}
	default:
		return ExpeditionResult{
			Outcome: types.OutcomeSuccess,
			Note:    "the crew logged readings of an ancient artifact",
		}
	}
}

func (pr *Processor) handleExpedition(m *types.FleetMission) error {
	res := rollExpedition(m)
	m.Outcome = res.Outcome
	m.Note = res.Note
	m.Cargo = m.Cargo.Add(res.Cargo)
	for u, c := range res.Ships {
		m.Ships[u] += c
	}
	return nil
}
