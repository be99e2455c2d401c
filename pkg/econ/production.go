// Package econ holds the pure economic formulas: production and energy,
// storage caps, upgrade costs and the points valuation. Live ticking and the
// idle catch-up both call the same functions so the two paths cannot drift.
package econ

import (
	"math"

	"starhold/pkg/balance"
	"starhold/pkg/types"
)

// Output returns the canonical hourly curve floor(baseRate x L x growth^L)
// for a producing building. The fusion reactor's growth scales with energy
// tech: 1.05 + 0.01 per level.
func Output(b types.BuildingID, level, energyTech int) float64 {
	if level <= 0 {
		return 0
	}
	def, ok := balance.Buildings[b]
	if !ok || def.BaseRate == 0 {
		return 0
	}
	growth := def.Growth
	if b == types.FusionReactor {
		growth = 1.05 + 0.01*float64(energyTech)
	}
	return math.Floor(def.BaseRate * float64(level) * math.Pow(growth, float64(level)))
}

// energyUse returns the hourly energy draw of a consumer at the same curve.
func energyUse(b types.BuildingID, level int) float64 {
	if level <= 0 {
		return 0
	}
	def := balance.Buildings[b]
	return math.Floor(def.EnergyUse * float64(level) * math.Pow(def.Growth, float64(level)))
}

// Production is the instantaneous economic state of a profile: hourly net
// rates after the energy throttle and production settings, before game speed.
type Production struct {
	PerHour        types.Resources // net mine output, fusion burn already deducted
	EnergyProduced float64
	EnergyConsumed float64
	Factor         float64 // energy throttle in [0,1], 1 when energy suffices
}

// Snapshot evaluates the economy model for the given levels and settings.
func Snapshot(p *types.Profile) Production {
	energyTech := p.Research[types.EnergyTech]

	setting := func(b types.BuildingID) float64 {
		return float64(p.Setting(b)) / 100.0
	}

	produced := Output(types.SolarPlant, p.Buildings[types.SolarPlant], energyTech)*setting(types.SolarPlant) +
		Output(types.FusionReactor, p.Buildings[types.FusionReactor], energyTech)*setting(types.FusionReactor)

	consumed := energyUse(types.MetalMine, p.Buildings[types.MetalMine])*setting(types.MetalMine) +
		energyUse(types.CrystalMine, p.Buildings[types.CrystalMine])*setting(types.CrystalMine) +
		energyUse(types.DeuteriumSynth, p.Buildings[types.DeuteriumSynth])*setting(types.DeuteriumSynth)

	factor := 1.0
	if consumed > produced {
		factor = produced / consumed
	}
	if factor < 0 {
		factor = 0
	}

	// The single scalar factor throttles all three mines uniformly.
	metal := Output(types.MetalMine, p.Buildings[types.MetalMine], energyTech) * factor * setting(types.MetalMine)
	crystal := Output(types.CrystalMine, p.Buildings[types.CrystalMine], energyTech) * factor * setting(types.CrystalMine)
	deut := Output(types.DeuteriumSynth, p.Buildings[types.DeuteriumSynth], energyTech) * factor * setting(types.DeuteriumSynth)

	// Fusion burns deuterium regardless of the mine throttle.
	deut -= energyUse(types.FusionReactor, p.Buildings[types.FusionReactor]) * setting(types.FusionReactor)

	return Production{
		PerHour:        types.Resources{Metal: metal, Crystal: crystal, Deuterium: deut},
		EnergyProduced: produced,
		EnergyConsumed: consumed,
		Factor:         factor,
	}
}

// Over converts the hourly rates into a delta for an elapsed wall-clock span.
// Game speed multiplies natural accumulation.
func (pr Production) Over(seconds, gameSpeed float64) types.Resources {
	if seconds <= 0 {
		return types.Resources{}
	}
	return pr.PerHour.Scale(gameSpeed * seconds / 3600.0)
}

// StorageCap is the per-resource tank limit at a given storage level.
func StorageCap(level int) float64 {
	if level < 0 {
		level = 0
	}
	return 10000 + 5000*math.Floor(math.Pow(2.5, float64(level)))
}

// Caps returns the three storage limits for a profile.
func Caps(p *types.Profile) types.Resources {
	return types.Resources{
		Metal:      StorageCap(p.Buildings[types.MetalStorage]),
		Crystal:    StorageCap(p.Buildings[types.CrystalStorage]),
		Deuterium:  StorageCap(p.Buildings[types.DeuteriumTank]),
		DarkMatter: math.Inf(1),
	}
}

// Apply advances production on a profile for the elapsed seconds and clamps
// the stock to storage. It returns the delta that was actually credited.
// Both the live per-second tick and the one-shot idle catch-up go through
// this single code path.
func Apply(p *types.Profile, seconds, gameSpeed float64) types.Resources {
	before := p.Resources
	delta := Snapshot(p).Over(seconds, gameSpeed)
	p.Resources = p.Resources.Add(delta).ClampTo(Caps(p))
	return p.Resources.Sub(before)
}
