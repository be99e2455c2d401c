package types

import (
	"fmt"
	"math"
	"time"
)

// --- Identifiers ---

type BuildingID string

const (
	MetalMine      BuildingID = "metal_mine"
	CrystalMine    BuildingID = "crystal_mine"
	DeuteriumSynth BuildingID = "deuterium_synth"
	SolarPlant     BuildingID = "solar_plant"
	FusionReactor  BuildingID = "fusion_reactor"
	RobotFactory   BuildingID = "robot_factory"
	Shipyard       BuildingID = "shipyard"
	ResearchLab    BuildingID = "research_lab"
	MetalStorage   BuildingID = "metal_storage"
	CrystalStorage BuildingID = "crystal_storage"
	DeuteriumTank  BuildingID = "deuterium_tank"
)

type ResearchID string

const (
	EnergyTech      ResearchID = "energy_tech"
	WeaponsTech     ResearchID = "weapons_tech"
	ShieldingTech   ResearchID = "shielding_tech"
	ArmourTech      ResearchID = "armour_tech"
	CombustionDrive ResearchID = "combustion_drive"
	EspionageTech   ResearchID = "espionage_tech"
)

// UnitID covers both ships and stationary defenses.
type UnitID string

const (
	LightFighter   UnitID = "light_fighter"
	HeavyFighter   UnitID = "heavy_fighter"
	Cruiser        UnitID = "cruiser"
	Battleship     UnitID = "battleship"
	SmallCargo     UnitID = "small_cargo"
	LargeCargo     UnitID = "large_cargo"
	ColonyShip     UnitID = "colony_ship"
	Recycler       UnitID = "recycler"
	EspionageProbe UnitID = "espionage_probe"
	Pathfinder     UnitID = "pathfinder"

	RocketLauncher UnitID = "rocket_launcher"
	LightLaser     UnitID = "light_laser"
	HeavyLaser     UnitID = "heavy_laser"
	GaussCannon    UnitID = "gauss_cannon"
	PlasmaTurret   UnitID = "plasma_turret"
)

// --- Geography ---

type Coords struct {
	Galaxy   int `json:"galaxy"`
	System   int `json:"system"`
	Position int `json:"position"`
}

func (c Coords) String() string {
	return fmt.Sprintf("%d:%d:%d", c.Galaxy, c.System, c.Position)
}

// Distance returns the abstract flight distance between two coordinates.
// Galaxy jumps dominate, then systems, then orbital slots.
func (c Coords) Distance(o Coords) float64 {
	if c == o {
		return 5
	}
	dg := math.Abs(float64(c.Galaxy - o.Galaxy))
	ds := math.Abs(float64(c.System - o.System))
	dp := math.Abs(float64(c.Position - o.Position))
	return dg*20000 + ds*95 + dp*5
}

// --- Resources ---

// Resources is a stock or a cost. Stocks are non-negative reals capped by
// storage; costs carry integral values.
type Resources struct {
	Metal      float64 `json:"metal"`
	Crystal    float64 `json:"crystal"`
	Deuterium  float64 `json:"deuterium"`
	DarkMatter float64 `json:"dark_matter"`
}

func (r Resources) Add(o Resources) Resources {
	return Resources{r.Metal + o.Metal, r.Crystal + o.Crystal, r.Deuterium + o.Deuterium, r.DarkMatter + o.DarkMatter}
}

func (r Resources) Sub(o Resources) Resources {
	return Resources{r.Metal - o.Metal, r.Crystal - o.Crystal, r.Deuterium - o.Deuterium, r.DarkMatter - o.DarkMatter}
}

func (r Resources) Scale(f float64) Resources {
	return Resources{r.Metal * f, r.Crystal * f, r.Deuterium * f, r.DarkMatter * f}
}

func (r Resources) Floor() Resources {
	return Resources{math.Floor(r.Metal), math.Floor(r.Crystal), math.Floor(r.Deuterium), math.Floor(r.DarkMatter)}
}

// Covers reports whether the stock can pay the given cost.
func (r Resources) Covers(cost Resources) bool {
	return r.Metal >= cost.Metal && r.Crystal >= cost.Crystal &&
		r.Deuterium >= cost.Deuterium && r.DarkMatter >= cost.DarkMatter
}

// ClampTo caps the three storable resources at their tank limits and floors
// everything at zero. Dark matter has no storage cap.
func (r Resources) ClampTo(caps Resources) Resources {
	out := r
	out.Metal = math.Min(out.Metal, caps.Metal)
	out.Crystal = math.Min(out.Crystal, caps.Crystal)
	out.Deuterium = math.Min(out.Deuterium, caps.Deuterium)
	out.Metal = math.Max(out.Metal, 0)
	out.Crystal = math.Max(out.Crystal, 0)
	out.Deuterium = math.Max(out.Deuterium, 0)
	out.DarkMatter = math.Max(out.DarkMatter, 0)
	return out
}

func (r Resources) Sum() float64 {
	return r.Metal + r.Crystal + r.Deuterium + r.DarkMatter
}

func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Debris is the harvestable byproduct of destroyed ships at a coordinate.
type Debris struct {
	Metal   float64 `json:"metal"`
	Crystal float64 `json:"crystal"`
}

func (d Debris) Total() float64 { return d.Metal + d.Crystal }

// --- Profile ---

// Profile is the durable per-player record. It is the unit of optimistic
// concurrency: every durable copy carries a version counter and all
// cross-session mutation goes through compare-and-swap writes.
type Profile struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Coords    Coords             `json:"coords"`
	Resources Resources          `json:"resources"`
	Buildings map[BuildingID]int `json:"buildings"`
	Research  map[ResearchID]int `json:"research"`
	Ships     map[UnitID]int     `json:"ships"`
	Defenses  map[UnitID]int     `json:"defenses"`
	Settings  map[BuildingID]int `json:"settings"` // production percent, 0..100
	XP        int                `json:"xp"`
	Level     int                `json:"level"`
	Logs      []MissionLog       `json:"logs"`
	Flags     map[string]bool    `json:"flags"` // one-time unlocks
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewProfile seeds a fresh player record with homestead defaults.
func NewProfile(id, name string, at Coords) *Profile {
	return &Profile{
		ID:        id,
		Name:      name,
		Coords:    at,
		Resources: Resources{Metal: 750, Crystal: 400, Deuterium: 200},
		Buildings: map[BuildingID]int{},
		Research:  map[ResearchID]int{},
		Ships:     map[UnitID]int{},
		Defenses:  map[UnitID]int{},
		Settings:  map[BuildingID]int{},
		Level:     1,
		Flags:     map[string]bool{},
	}
}

// Setting returns the production percentage for a building, defaulting to 100.
func (p *Profile) Setting(b BuildingID) int {
	if v, ok := p.Settings[b]; ok {
		return v
	}
	return 100
}

// HasLog reports whether a log entry with the given id is already recorded.
// This is the idempotency guard for mission returns.
func (p *Profile) HasLog(id string) bool {
	for _, l := range p.Logs {
		if l.ID == id {
			return true
		}
	}
	return false
}

// AppendLog keeps the most recent entries up to max, newest first.
func (p *Profile) AppendLog(l MissionLog, max int) {
	p.Logs = append([]MissionLog{l}, p.Logs...)
	if max > 0 && len(p.Logs) > max {
		p.Logs = p.Logs[:max]
	}
}

// Clone returns a deep copy. Mission processing mutates copies and only
// commits them through CAS writes.
func (p *Profile) Clone() *Profile {
	out := *p
	out.Buildings = cloneMap(p.Buildings)
	out.Research = cloneMap(p.Research)
	out.Ships = cloneMap(p.Ships)
	out.Defenses = cloneMap(p.Defenses)
	out.Settings = cloneMap(p.Settings)
	out.Logs = append([]MissionLog(nil), p.Logs...)
	out.Flags = cloneMap(p.Flags)
	return &out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CloneUnits copies a unit-count map, dropping zero entries.
func CloneUnits(m map[UnitID]int) map[UnitID]int {
	out := make(map[UnitID]int, len(m))
	for k, v := range m {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// --- Planets (colonies) ---

type Planet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Coords    Coords    `json:"coords"`
	Resources Resources `json:"resources"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Missions ---

type MissionKind string

const (
	MissionExpedition MissionKind = "expedition"
	MissionAttack     MissionKind = "attack"
	MissionTransport  MissionKind = "transport"
	MissionSpy        MissionKind = "spy"
	MissionColonize   MissionKind = "colonize"
	MissionRecycle    MissionKind = "recycle"
)

// Kinds lists every mission variant. Dispatch switches over this closed set;
// an unknown kind is a bug, not a silently ignored case.
func Kinds() []MissionKind {
	return []MissionKind{
		MissionExpedition, MissionAttack, MissionTransport,
		MissionSpy, MissionColonize, MissionRecycle,
	}
}

type MissionStatus string

const (
	MissionFlying     MissionStatus = "flying"
	MissionProcessing MissionStatus = "processing"
	MissionReturning  MissionStatus = "returning"
	MissionCompleted  MissionStatus = "completed"
)

// FleetMission is a dispatched fleet. Ships and cargo were deducted from the
// owner before the record was durably created, so the record is the only
// place they exist while in transit.
type FleetMission struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	TargetID    string         `json:"target_id"` // empty means NPC or empty space
	Kind        MissionKind    `json:"kind"`
	Ships       map[UnitID]int `json:"ships"`
	Cargo       Resources      `json:"cargo"`
	Origin      Coords         `json:"origin"`
	Target      Coords         `json:"target"`
	StartTime   time.Time      `json:"start_time"`
	ArrivalTime time.Time      `json:"arrival_time"`
	ReturnTime  time.Time      `json:"return_time"` // zero for colonize (one-way)
	Processed   bool           `json:"processed"`
	Status      MissionStatus  `json:"status"`

	// Arrival results ride along on the record so the return leg can write
	// the owner's log without re-deriving anything.
	Outcome Outcome       `json:"outcome,omitempty"`
	Note    string        `json:"note,omitempty"`
	Battle  *BattleReport `json:"battle,omitempty"`
}

func (m *FleetMission) ShipCount() int {
	n := 0
	for _, c := range m.Ships {
		n += c
	}
	return n
}

// --- Battle reports & logs ---

// SideSummary captures one combatant's unit counts around a battle. Final
// counts are post-round and pre-repair; they decide the verdict.
type SideSummary struct {
	Initial    map[UnitID]int `json:"initial"`
	Final      map[UnitID]int `json:"final"`
	Losses     map[UnitID]int `json:"losses"`
	WeaponMult float64        `json:"weapon_mult"`
	ShieldMult float64        `json:"shield_mult"`
}

type BattleReport struct {
	Attacker    SideSummary  `json:"attacker"`
	Defender    SideSummary  `json:"defender"`
	AttackerWon bool         `json:"attacker_won"`
	Loot        Resources    `json:"loot"`
	Debris      Debris       `json:"debris"`
	Damaged     []BuildingID `json:"damaged_buildings"`
	Rounds      []string     `json:"rounds"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNeutral Outcome = "neutral"
	OutcomeFailure Outcome = "failure"
	OutcomeDanger  Outcome = "danger"
)

// MissionLog is one entry in a player's capped notification feed.
type MissionLog struct {
	ID      string        `json:"id"`
	Time    time.Time     `json:"time"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Outcome Outcome       `json:"outcome"`
	Rewards *Resources    `json:"rewards,omitempty"`
	Battle  *BattleReport `json:"battle,omitempty"`
}

// --- Construction ---

type QueueKind string

const (
	QueueBuilding QueueKind = "building"
	QueueResearch QueueKind = "research"
	QueueShip     QueueKind = "ship"
	QueueDefense  QueueKind = "defense"
)

// ConstructionItem is one queued job. Building and research items target a
// level; ship and defense items carry a quantity.
type ConstructionItem struct {
	ID          string     `json:"id"`
	Kind        QueueKind  `json:"kind"`
	Building    BuildingID `json:"building,omitempty"`
	Research    ResearchID `json:"research,omitempty"`
	Unit        UnitID     `json:"unit,omitempty"`
	TargetLevel int        `json:"target_level,omitempty"`
	Quantity    int        `json:"quantity,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
}

func (c ConstructionItem) Duration() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}
