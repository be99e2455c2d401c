package econ

import (
	"math"

	"starhold/pkg/balance"
	"starhold/pkg/types"
)

// Cost is the exponential upgrade curve: floor(base x 1.5^L) per resource,
// where L is the current level before the purchase. Cost(base, 0) == base.
func Cost(base types.Resources, level int) types.Resources {
	if level < 0 {
		level = 0
	}
	f := math.Pow(1.5, float64(level))
	return base.Scale(f).Floor()
}

// BuildingCost prices the next upgrade of a building at currentLevel.
func BuildingCost(b types.BuildingID, currentLevel int) types.Resources {
	return Cost(balance.Buildings[b].BaseCost, currentLevel)
}

// ResearchCost prices the next level of a research line.
func ResearchCost(r types.ResearchID, currentLevel int) types.Resources {
	return Cost(balance.Research[r].BaseCost, currentLevel)
}

// UnitCost prices ships and defenses linearly.
func UnitCost(u types.UnitID, quantity int) types.Resources {
	if quantity < 0 {
		quantity = 0
	}
	return balance.Units[u].Cost.Scale(float64(quantity))
}

// CumulativeCost sums every purchase that was made to reach the current
// level: the cost paid for level l is Cost(base, l-1).
func CumulativeCost(base types.Resources, currentLevel int) types.Resources {
	total := types.Resources{}
	for l := 0; l < currentLevel; l++ {
		total = total.Add(Cost(base, l))
	}
	return total
}

// Points values a profile: stock divided by 1000, plus the cumulative cost of
// all buildings and research, plus unit costs, all divided by 1000 and
// floored at the end.
func Points(p *types.Profile) int {
	total := p.Resources.Sum() / 1000.0

	for b, level := range p.Buildings {
		total += CumulativeCost(balance.Buildings[b].BaseCost, level).Sum()
	}
	for r, level := range p.Research {
		total += CumulativeCost(balance.Research[r].BaseCost, level).Sum()
	}
	for u, count := range p.Ships {
		total += UnitCost(u, count).Sum()
	}
	for u, count := range p.Defenses {
		total += UnitCost(u, count).Sum()
	}

	return int(math.Floor(total / 1000.0))
}

// MeetsRequirements checks an AND list of prerequisite levels against the
// profile. An empty list always passes.
func MeetsRequirements(p *types.Profile, reqs []balance.Requirement) bool {
	for _, req := range reqs {
		if req.Building != "" && p.Buildings[req.Building] < req.Level {
			return false
		}
		if req.Research != "" && p.Research[req.Research] < req.Level {
			return false
		}
	}
	return true
}
