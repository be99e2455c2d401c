package balance

import (
	"starhold/pkg/types"
)

// Requirement gates an upgrade on a prerequisite level. All requirements of
// an item must hold (AND, no alternative groups).
type Requirement struct {
	Building types.BuildingID `yaml:"building,omitempty"`
	Research types.ResearchID `yaml:"research,omitempty"`
	Level    int              `yaml:"level"`
}

// BuildingDef carries the static data for one building line. BaseRate is the
// hourly production (or energy output) at the canonical exponential curve;
// EnergyUse is the hourly energy draw at the same curve.
type BuildingDef struct {
	BaseCost  types.Resources
	BaseRate  float64
	Growth    float64
	EnergyUse float64
	Requires  []Requirement
}

type ResearchDef struct {
	BaseCost types.Resources
	Requires []Requirement
}

// UnitDef describes one ship or defense type. Counters lists the unit types
// this one gets bonus damage against and the bonus multiplier.
type UnitDef struct {
	Cost             types.Resources
	Attack           float64
	Defense          float64
	Cargo            float64
	Speed            float64
	BaseBuildSeconds float64
	IsDefense        bool
	Counters         map[types.UnitID]float64
}

// --- Static tables ---

// Mines and plants use growth 1.1; the fusion reactor's growth depends on
// energy tech and is resolved in the economy model, the value here is the
// 1.05 base.
var Buildings = map[types.BuildingID]BuildingDef{
	types.MetalMine: {
		BaseCost: types.Resources{Metal: 60, Crystal: 15},
		BaseRate: 30, Growth: 1.1, EnergyUse: 10,
	},
	types.CrystalMine: {
		BaseCost: types.Resources{Metal: 48, Crystal: 24},
		BaseRate: 20, Growth: 1.1, EnergyUse: 10,
	},
	types.DeuteriumSynth: {
		BaseCost: types.Resources{Metal: 225, Crystal: 75},
		BaseRate: 10, Growth: 1.1, EnergyUse: 20,
	},
	types.SolarPlant: {
		BaseCost: types.Resources{Metal: 75, Crystal: 30},
		BaseRate: 20, Growth: 1.1,
	},
	types.FusionReactor: {
		BaseCost: types.Resources{Metal: 900, Crystal: 360, Deuterium: 180},
		BaseRate: 30, Growth: 1.05, EnergyUse: 10, // EnergyUse here is the deuterium burn rate
		Requires: []Requirement{
			{Building: types.DeuteriumSynth, Level: 5},
			{Research: types.EnergyTech, Level: 3},
		},
	},
	types.RobotFactory: {
		BaseCost: types.Resources{Metal: 400, Crystal: 120, Deuterium: 200},
	},
	types.Shipyard: {
		BaseCost: types.Resources{Metal: 400, Crystal: 200, Deuterium: 100},
		Requires: []Requirement{{Building: types.RobotFactory, Level: 2}},
	},
	types.ResearchLab: {
		BaseCost: types.Resources{Metal: 200, Crystal: 400, Deuterium: 200},
	},
	types.MetalStorage: {
		BaseCost: types.Resources{Metal: 1000},
	},
	types.CrystalStorage: {
		BaseCost: types.Resources{Metal: 1000, Crystal: 500},
	},
	types.DeuteriumTank: {
		BaseCost: types.Resources{Metal: 1000, Crystal: 1000},
	},
}

var Research = map[types.ResearchID]ResearchDef{
	types.EnergyTech: {
		BaseCost: types.Resources{Crystal: 800, Deuterium: 400},
		Requires: []Requirement{{Building: types.ResearchLab, Level: 1}},
	},
	types.WeaponsTech: {
		BaseCost: types.Resources{Metal: 800, Crystal: 200},
		Requires: []Requirement{{Building: types.ResearchLab, Level: 4}},
	},
	types.ShieldingTech: {
		BaseCost: types.Resources{Metal: 200, Crystal: 600},
		Requires: []Requirement{
			{Building: types.ResearchLab, Level: 6},
			{Research: types.EnergyTech, Level: 3},
		},
	},
	types.ArmourTech: {
		BaseCost: types.Resources{Metal: 1000},
		Requires: []Requirement{{Building: types.ResearchLab, Level: 2}},
	},
	types.CombustionDrive: {
		BaseCost: types.Resources{Metal: 400, Deuterium: 600},
		Requires: []Requirement{
			{Building: types.ResearchLab, Level: 1},
			{Research: types.EnergyTech, Level: 1},
		},
	},
	types.EspionageTech: {
		BaseCost: types.Resources{Metal: 200, Crystal: 1000, Deuterium: 200},
		Requires: []Requirement{{Building: types.ResearchLab, Level: 3}},
	},
}

var Units = map[types.UnitID]UnitDef{
	// Ships
	types.LightFighter: {
		Cost:   types.Resources{Metal: 3000, Crystal: 1000},
		Attack: 80, Defense: 10, Cargo: 50, Speed: 12500,
		BaseBuildSeconds: 60,
	},
	types.HeavyFighter: {
		Cost:   types.Resources{Metal: 6000, Crystal: 4000},
		Attack: 150, Defense: 25, Cargo: 100, Speed: 10000,
		BaseBuildSeconds: 120,
		Counters:         map[types.UnitID]float64{types.EspionageProbe: 4},
	},
	types.Cruiser: {
		Cost:   types.Resources{Metal: 20000, Crystal: 7000, Deuterium: 2000},
		Attack: 400, Defense: 50, Cargo: 800, Speed: 15000,
		BaseBuildSeconds: 300,
		Counters: map[types.UnitID]float64{
			types.LightFighter:   3,
			types.RocketLauncher: 5,
		},
	},
	types.Battleship: {
		Cost:   types.Resources{Metal: 45000, Crystal: 15000},
		Attack: 1000, Defense: 200, Cargo: 1500, Speed: 10000,
		BaseBuildSeconds: 600,
		Counters:         map[types.UnitID]float64{types.Cruiser: 2},
	},
	types.SmallCargo: {
		Cost:   types.Resources{Metal: 2000, Crystal: 2000},
		Attack: 5, Defense: 10, Cargo: 5000, Speed: 5000,
		BaseBuildSeconds: 45,
	},
	types.LargeCargo: {
		Cost:   types.Resources{Metal: 6000, Crystal: 6000},
		Attack: 5, Defense: 25, Cargo: 25000, Speed: 7500,
		BaseBuildSeconds: 90,
	},
	types.ColonyShip: {
		Cost:   types.Resources{Metal: 10000, Crystal: 20000, Deuterium: 10000},
		Attack: 50, Defense: 100, Cargo: 7500, Speed: 2500,
		BaseBuildSeconds: 900,
	},
	types.Recycler: {
		Cost:   types.Resources{Metal: 10000, Crystal: 6000, Deuterium: 2000},
		Attack: 1, Defense: 16, Cargo: 20000, Speed: 2000,
		BaseBuildSeconds: 240,
	},
	types.EspionageProbe: {
		Cost:   types.Resources{Crystal: 1000},
		Attack: 0, Defense: 0, Cargo: 5, Speed: 100000000,
		BaseBuildSeconds: 10,
	},
	types.Pathfinder: {
		Cost:   types.Resources{Metal: 8000, Crystal: 15000, Deuterium: 8000},
		Attack: 200, Defense: 100, Cargo: 10000, Speed: 12000,
		BaseBuildSeconds: 360,
	},

	// Defenses
	types.RocketLauncher: {
		Cost:   types.Resources{Metal: 2000},
		Attack: 80, Defense: 20,
		BaseBuildSeconds: 30, IsDefense: true,
	},
	types.LightLaser: {
		Cost:   types.Resources{Metal: 1500, Crystal: 500},
		Attack: 100, Defense: 25,
		BaseBuildSeconds: 40, IsDefense: true,
	},
	types.HeavyLaser: {
		Cost:   types.Resources{Metal: 6000, Crystal: 2000},
		Attack: 250, Defense: 100,
		BaseBuildSeconds: 90, IsDefense: true,
		Counters: map[types.UnitID]float64{types.LightFighter: 2},
	},
	types.GaussCannon: {
		Cost:   types.Resources{Metal: 20000, Crystal: 15000, Deuterium: 2000},
		Attack: 1100, Defense: 200,
		BaseBuildSeconds: 300, IsDefense: true,
		Counters: map[types.UnitID]float64{types.Cruiser: 2},
	},
	types.PlasmaTurret: {
		Cost:   types.Resources{Metal: 50000, Crystal: 50000, Deuterium: 30000},
		Attack: 3000, Defense: 300,
		BaseBuildSeconds: 900, IsDefense: true,
		Counters: map[types.UnitID]float64{types.Battleship: 2},
	},
}

// NPCDefenses is the fixed stat block used when an attack arrives at empty
// space or an NPC position.
var NPCDefenses = map[types.UnitID]int{
	types.RocketLauncher: 10,
	types.LightLaser:     4,
}

// NPCResources is what an NPC target can be looted for.
var NPCResources = types.Resources{Metal: 4000, Crystal: 2000, Deuterium: 500}

// BuildingRequirements returns the prerequisite list for a building, nil for
// unknown ids.
func BuildingRequirements(b types.BuildingID) []Requirement {
	return Buildings[b].Requires
}

// UnitRequirements gates units on the shipyard plus a few tech lines.
var UnitRequirements = map[types.UnitID][]Requirement{
	types.Cruiser:    {{Research: types.CombustionDrive, Level: 2}},
	types.Battleship: {{Research: types.CombustionDrive, Level: 4}},
	types.EspionageProbe: {
		{Research: types.EspionageTech, Level: 2},
	},
	types.PlasmaTurret: {{Research: types.EnergyTech, Level: 8}},
}
