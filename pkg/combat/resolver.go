// Package combat implements the round-based battle resolver. Resolve is a
// pure function over unit counts, tech levels and static unit stats; the
// only randomness (building damage rolls) comes from the caller's source.
package combat

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"starhold/pkg/balance"
	"starhold/pkg/types"
)

// Input is everything the resolver needs about one engagement.
type Input struct {
	AttackerShips    map[types.UnitID]int
	AttackerResearch map[types.ResearchID]int

	DefenderShips     map[types.UnitID]int
	DefenderDefenses  map[types.UnitID]int
	DefenderBuildings map[types.BuildingID]int
	DefenderResearch  map[types.ResearchID]int
	DefenderResources types.Resources

	// IsBot marks NPC stat-block fights; they never get building damage.
	IsBot bool
}

// Result carries the verdict plus everything the caller must apply: attacker
// survivors for the return trip, the defender's post-repair counts, loot,
// debris and damaged buildings.
type Result struct {
	Report            types.BattleReport
	AttackerSurvivors map[types.UnitID]int
	DefenderShips     map[types.UnitID]int
	DefenderDefenses  map[types.UnitID]int
	Loot              types.Resources
	Debris            types.Debris
	Damaged           []types.BuildingID
	AttackerWon       bool
}

// WeaponMultiplier is 1 + 0.1 per weapons tech level.
func WeaponMultiplier(research map[types.ResearchID]int) float64 {
	return 1 + 0.1*float64(research[types.WeaponsTech])
}

// ShieldMultiplier is 1 + 0.05 per shielding level + 0.05 per armour level.
func ShieldMultiplier(research map[types.ResearchID]int) float64 {
	return 1 + 0.05*float64(research[types.ShieldingTech]) + 0.05*float64(research[types.ArmourTech])
}

// unitHealth is (metal+crystal)/10 + defense stat scaled by the owner's
// shield multiplier.
func unitHealth(u types.UnitID, shieldMult float64) float64 {
	def := balance.Units[u]
	return (def.Cost.Metal+def.Cost.Crystal)/10 + def.Defense*shieldMult
}

func totalCount(m map[types.UnitID]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

func totalHealth(m map[types.UnitID]int, shieldMult float64) float64 {
	h := 0.0
	for u, c := range m {
		h += unitHealth(u, shieldMult) * float64(c)
	}
	return h
}

// sideDamage sums base damage plus counter bonuses against present enemy
// types. The bonus shrinks when targets are scarce relative to the firing
// stack: min(1, targets/attackers).
func sideDamage(units map[types.UnitID]int, enemy map[types.UnitID]int, weaponMult float64) float64 {
	dmg := 0.0
	for u, count := range units {
		if count <= 0 {
			continue
		}
		def := balance.Units[u]
		base := def.Attack * float64(count) * weaponMult
		dmg += base
		for target, bonus := range def.Counters {
			targets := enemy[target]
			if targets <= 0 {
				continue
			}
			ratio := math.Min(1, float64(targets)/float64(count))
			dmg += base * bonus * ratio
		}
	}
	return dmg
}

// applyLosses reduces every unit type by the same percentage, floored per
// type. Iteration order does not matter because types are independent.
func applyLosses(m map[types.UnitID]int, pct float64) {
	for u, count := range m {
		m[u] = count - int(math.Floor(float64(count)*pct))
	}
}

func merged(a, b map[types.UnitID]int) map[types.UnitID]int {
	out := make(map[types.UnitID]int, len(a)+len(b))
	for u, c := range a {
		out[u] += c
	}
	for u, c := range b {
		out[u] += c
	}
	return out
}

// Resolve runs up to cfg.MaxCombatRounds rounds and settles loot, debris,
// repair and building damage. rng may be nil, in which case a time-seeded
// source is used; tests pass a fixed seed.
func Resolve(in Input, cfg *balance.Config, rng *rand.Rand) Result {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	atk := types.CloneUnits(in.AttackerShips)
	defShips := types.CloneUnits(in.DefenderShips)
	defDef := types.CloneUnits(in.DefenderDefenses)

	atkWeapon := WeaponMultiplier(in.AttackerResearch)
	atkShield := ShieldMultiplier(in.AttackerResearch)
	defWeapon := WeaponMultiplier(in.DefenderResearch)
	defShield := ShieldMultiplier(in.DefenderResearch)

	report := types.BattleReport{
		Attacker: types.SideSummary{
			Initial: types.CloneUnits(atk), WeaponMult: atkWeapon, ShieldMult: atkShield,
		},
		Defender: types.SideSummary{
			Initial: merged(defShips, defDef), WeaponMult: defWeapon, ShieldMult: defShield,
		},
	}

	for round := 1; round <= cfg.MaxCombatRounds; round++ {
		if totalCount(atk) == 0 || totalCount(defShips)+totalCount(defDef) == 0 {
			break
		}

		defAll := merged(defShips, defDef)
		atkDamage := sideDamage(atk, defAll, atkWeapon)
		defDamage := sideDamage(defAll, atk, defWeapon)

		atkHealth := totalHealth(atk, atkShield)
		defHealth := totalHealth(defAll, defShield)

		defPct := math.Min(1, atkDamage/defHealth)
		atkPct := math.Min(1, defDamage/atkHealth)

		applyLosses(defShips, defPct)
		applyLosses(defDef, defPct)
		applyLosses(atk, atkPct)

		report.Rounds = append(report.Rounds, fmt.Sprintf(
			"round %d: attacker dealt %.0f (%.0f%% losses inflicted), defender dealt %.0f (%.0f%% losses inflicted)",
			round, atkDamage, defPct*100, defDamage, atkPct*100))

		if totalCount(atk) == 0 || totalCount(defShips)+totalCount(defDef) == 0 {
			break
		}
	}

	// Verdict on the raw post-round counts, before repair.
	won := totalCount(atk) > 0 && totalCount(defShips)+totalCount(defDef) == 0

	report.Attacker.Final = types.CloneUnits(atk)
	report.Defender.Final = merged(defShips, defDef)
	report.Attacker.Losses = lossMap(report.Attacker.Initial, report.Attacker.Final)
	report.Defender.Losses = lossMap(report.Defender.Initial, report.Defender.Final)
	report.AttackerWon = won

	// Debris: 30% of metal+crystal value of every ship destroyed, both
	// sides. Defenses rust in place, they leave no field.
	debris := types.Debris{}
	addDebris := func(initial, final map[types.UnitID]int) {
		for u, before := range initial {
			if balance.Units[u].IsDefense {
				continue
			}
			lost := before - final[u]
			if lost <= 0 {
				continue
			}
			cost := balance.Units[u].Cost
			debris.Metal += cost.Metal * float64(lost) * cfg.DebrisFraction
			debris.Crystal += cost.Crystal * float64(lost) * cfg.DebrisFraction
		}
	}
	addDebris(report.Attacker.Initial, atk)
	addDebris(types.CloneUnits(in.DefenderShips), defShips)
	debris.Metal = math.Floor(debris.Metal)
	debris.Crystal = math.Floor(debris.Crystal)

	// Defense repair: 70% of each destroyed defense type is rebuilt from the
	// wreckage after the fight.
	for u, before := range types.CloneUnits(in.DefenderDefenses) {
		lost := before - defDef[u]
		if lost <= 0 {
			continue
		}
		repaired := int(math.Floor(float64(lost) * cfg.RepairFraction))
		defDef[u] += repaired
	}

	res := Result{
		Report:            report,
		AttackerSurvivors: atk,
		DefenderShips:     defShips,
		DefenderDefenses:  defDef,
		Debris:            debris,
		AttackerWon:       won,
	}

	if won {
		res.Loot = in.DefenderResources.Scale(cfg.LootFraction).Floor()
		res.Loot.DarkMatter = 0

		if !in.IsBot {
			// Each built building has an independent chance of losing a level.
			ids := make([]types.BuildingID, 0, len(in.DefenderBuildings))
			for b, level := range in.DefenderBuildings {
				if level > 0 {
					ids = append(ids, b)
				}
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for _, b := range ids {
				if rng.Float64() < cfg.BuildingHitOdds {
					res.Damaged = append(res.Damaged, b)
				}
			}
		}
		res.Report.Loot = res.Loot
		res.Report.Damaged = res.Damaged
	}
	res.Report.Debris = debris

	return res
}

func lossMap(initial, final map[types.UnitID]int) map[types.UnitID]int {
	out := make(map[types.UnitID]int)
	for u, before := range initial {
		if lost := before - final[u]; lost > 0 {
			out[u] = lost
		}
	}
	return out
}
