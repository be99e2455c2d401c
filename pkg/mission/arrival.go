package mission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"starhold/pkg/balance"
	"starhold/pkg/combat"
	"starhold/pkg/econ"
	"starhold/pkg/retry"
	"starhold/pkg/store"
	"starhold/pkg/types"
)

// ProcessArrivals claims and settles every flying mission whose arrival time
// has passed. Each mission is independent; one failure never stops the scan.
func (pr *Processor) ProcessArrivals(ctx context.Context, now time.Time) {
	missions, err := pr.store.ActiveMissions(ctx)
	if err != nil {
		pr.log.Error("scan active missions", zap.Error(err))
		return
	}
	for _, m := range missions {
		if m.Status != types.MissionFlying || m.Processed || m.ArrivalTime.After(now) {
			continue
		}
		pr.processArrival(ctx, m, now)
	}
}

func (pr *Processor) processArrival(ctx context.Context, m *types.FleetMission, now time.Time) {
	err := pr.store.ClaimMission(ctx, m.ID, types.MissionFlying, types.MissionProcessing)
	if errors.Is(err, store.ErrAlreadyClaimed) {
		// Another worker won the claim; back off silently.
		return
	}
	if err != nil {
		pr.log.Error("claim mission", zap.String("mission", m.ID), zap.Error(err))
		return
	}
	m.Status = types.MissionProcessing

	// An arrival handler must never leave a mission stuck, whatever breaks
	// inside it. Panics degrade to a forced systemic return.
	defer func() {
		if r := recover(); r != nil {
			pr.log.Error("arrival handler panicked, forcing return",
				zap.String("mission", m.ID), zap.Any("panic", r))
			pr.systemicReturn(ctx, m, now)
		}
	}()

	var err2 error
	switch m.Kind {
	case types.MissionAttack:
		err2 = pr.handleAttack(ctx, m, now)
	case types.MissionTransport:
		err2 = pr.handleTransport(ctx, m, now)
	case types.MissionSpy:
		err2 = pr.handleSpy(ctx, m, now)
	case types.MissionColonize:
		err2 = pr.handleColonize(ctx, m, now)
	case types.MissionRecycle:
		err2 = pr.handleRecycle(ctx, m)
	case types.MissionExpedition:
		err2 = pr.handleExpedition(m)
	default:
		err2 = fmt.Errorf("unhandled mission kind %q", m.Kind)
	}
	if err2 != nil {
		pr.log.Warn("arrival processing failed, forcing return",
			zap.String("mission", m.ID), zap.String("kind", string(m.Kind)), zap.Error(err2))
		pr.systemicReturn(ctx, m, now)
		return
	}

	if m.Status == types.MissionCompleted {
		// One-way outcomes (colonize) settle here.
		m.Processed = true
		if err := pr.store.UpdateMission(ctx, m); err != nil {
			pr.log.Error("settle one-way mission", zap.String("mission", m.ID), zap.Error(err))
		}
		return
	}

	// Homeward leg: symmetric travel time.
	m.Processed = true
	m.Status = types.MissionReturning
	m.ReturnTime = now.Add(m.ReturnTime.Sub(m.StartTime) / 2)
	if err := pr.store.UpdateMission(ctx, m); err != nil {
		pr.log.Error("flip mission to returning", zap.String("mission", m.ID), zap.Error(err))
	}
}

// systemicReturn is the neutral fallback for any failed arrival: no side
// effects, a short fixed delay, and the fleet comes home.
func (pr *Processor) systemicReturn(ctx context.Context, m *types.FleetMission, now time.Time) {
	m.Processed = true
	m.Status = types.MissionReturning
	m.ReturnTime = now.Add(pr.cfg.SystemicReturnWait)
	m.Outcome = types.OutcomeNeutral
	m.Note = "systemic malfunction, fleet returned automatically"
	if err := pr.store.UpdateMission(ctx, m); err != nil {
		pr.log.Error("write systemic return", zap.String("mission", m.ID), zap.Error(err))
	}
}

// --- Attack ---

func (pr *Processor) handleAttack(ctx context.Context, m *types.FleetMission, now time.Time) error {
	owner, _, err := pr.store.Profile(ctx, m.OwnerID)
	if err != nil {
		return fmt.Errorf("read attacker: %w", err)
	}

	target, _, err := pr.store.ProfileAt(ctx, m.Target)
	if errors.Is(err, store.ErrNotFound) {
		return pr.attackNPC(ctx, m, owner)
	}
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	if target.ID == m.OwnerID {
		m.Outcome = types.OutcomeNeutral
		m.Note = "fleet refused to fire on its own colony"
		return nil
	}

	// The whole fetch-compute-write cycle repeats on a version conflict so
	// every attempt fights the target's actual current state.
	var result combat.Result
	res := pr.retryWrite(ctx, func(ctx context.Context) error {
		fresh, version, err := pr.store.Profile(ctx, target.ID)
		if err != nil {
			return err
		}
		result = combat.Resolve(combat.Input{
			AttackerShips:     m.Ships,
			AttackerResearch:  owner.Research,
			DefenderShips:     fresh.Ships,
			DefenderDefenses:  fresh.Defenses,
			DefenderBuildings: fresh.Buildings,
			DefenderResearch:  fresh.Research,
			DefenderResources: fresh.Resources,
		}, pr.cfg, nil)

		// Every defender-visible effect lands in this one versioned write.
		fresh.Ships = result.DefenderShips
		fresh.Defenses = result.DefenderDefenses
		fresh.Resources = fresh.Resources.Sub(result.Loot).ClampTo(econ.Caps(fresh))
		for _, b := range result.Damaged {
			if fresh.Buildings[b] > 0 {
				fresh.Buildings[b]--
			}
		}
		outcome := types.OutcomeDanger
		title := "Your planet was raided"
		if !result.AttackerWon {
			outcome = types.OutcomeSuccess
			title = "Attack repelled"
		}
		report := result.Report
		fresh.AppendLog(types.MissionLog{
			ID:      uuid.NewString(),
			Time:    now,
			Title:   title,
			Message: fmt.Sprintf("%s attacked %s", owner.Name, m.Target),
			Outcome: outcome,
			Battle:  &report,
		}, pr.cfg.LogCap)
		return pr.store.CASProfile(ctx, fresh, version)
	})
	if res.Outcome != retry.Success {
		return fmt.Errorf("settle attack on %s after %d attempts: %w", target.ID, res.Attempts, res.Err)
	}

	pr.applyBattleToMission(ctx, m, result)
	pr.notify.Notify("Battle at "+m.Target.String(),
		fmt.Sprintf("%s vs %s, attacker won: %v", owner.Name, target.Name, result.AttackerWon))
	return nil
}

// attackNPC resolves against the fixed stat block guarding empty space.
func (pr *Processor) attackNPC(ctx context.Context, m *types.FleetMission, owner *types.Profile) error {
	result := combat.Resolve(combat.Input{
		AttackerShips:     m.Ships,
		AttackerResearch:  owner.Research,
		DefenderDefenses:  balance.NPCDefenses,
		DefenderResources: balance.NPCResources,
		IsBot:             true,
	}, pr.cfg, nil)
	pr.applyBattleToMission(ctx, m, result)
	return nil
}

func (pr *Processor) applyBattleToMission(ctx context.Context, m *types.FleetMission, result combat.Result) {
	m.Ships = result.AttackerSurvivors
	m.Cargo = m.Cargo.Add(result.Loot)
	report := result.Report
	m.Battle = &report
	if result.AttackerWon {
		m.Outcome = types.OutcomeSuccess
		m.Note = "target defeated"
	} else {
		m.Outcome = types.OutcomeFailure
		m.Note = "fleet was repelled"
	}

	if result.Debris.Total() > 0 {
		field, err := pr.store.Debris(ctx, m.Target)
		if err == nil {
			field.Metal += result.Debris.Metal
			field.Crystal += result.Debris.Crystal
			err = pr.store.WriteDebris(ctx, m.Target, field)
		}
		if err != nil {
			// The field is a bonus, never worth failing the battle over.
			pr.log.Warn("debris write failed", zap.String("coords", m.Target.String()), zap.Error(err))
		}
	}
}

// --- Transport ---

func (pr *Processor) handleTransport(ctx context.Context, m *types.FleetMission, now time.Time) error {
	target, _, err := pr.store.ProfileAt(ctx, m.Target)
	if errors.Is(err, store.ErrNotFound) {
		m.Outcome = types.OutcomeNeutral
		m.Note = "nothing there, cargo brought home"
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}

	delivered := m.Cargo
	res := pr.retryWrite(ctx, func(ctx context.Context) error {
		fresh, version, err := pr.store.Profile(ctx, target.ID)
		if err != nil {
			return err
		}
		fresh.Resources = fresh.Resources.Add(delivered).ClampTo(econ.Caps(fresh))
		fresh.AppendLog(types.MissionLog{
			ID:      uuid.NewString(),
			Time:    now,
			Title:   "Delivery received",
			Message: fmt.Sprintf("a freighter from %s unloaded at %s", m.Origin, m.Target),
			Outcome: types.OutcomeNeutral,
			Rewards: &delivered,
		}, pr.cfg.LogCap)
		return pr.store.CASProfile(ctx, fresh, version)
	})
	if res.Outcome != retry.Success {
		return fmt.Errorf("deliver cargo to %s: %w", target.ID, res.Err)
	}

	m.Cargo = types.Resources{}
	m.Outcome = types.OutcomeSuccess
	m.Note = fmt.Sprintf("delivered %.0f resources to %s", delivered.Sum(), m.Target)
	return nil
}

// --- Spy ---

func (pr *Processor) handleSpy(ctx context.Context, m *types.FleetMission, now time.Time) error {
	target, _, err := pr.store.ProfileAt(ctx, m.Target)
	if errors.Is(err, store.ErrNotFound) {
		m.Outcome = types.OutcomeNeutral
		m.Note = "probes found only empty space"
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}

	ships := 0
	for _, c := range target.Ships {
		ships += c
	}
	defenses := 0
	for _, c := range target.Defenses {
		defenses += c
	}
	m.Outcome = types.OutcomeSuccess
	m.Note = fmt.Sprintf(
		"scan of %s: metal %.0f, crystal %.0f, deuterium %.0f, %d ships, %d defenses",
		m.Target, target.Resources.Metal, target.Resources.Crystal,
		target.Resources.Deuterium, ships, defenses)

	// The target learns it was scanned. Best effort: a lost race here is an
	// acceptable intel asymmetry, not a reason to abort the report.
	res := pr.retryWrite(ctx, func(ctx context.Context) error {
		fresh, version, err := pr.store.Profile(ctx, target.ID)
		if err != nil {
			return err
		}
		fresh.AppendLog(types.MissionLog{
			ID:      uuid.NewString(),
			Time:    now,
			Title:   "Espionage detected",
			Message: fmt.Sprintf("foreign probes swept %s", m.Target),
			Outcome: types.OutcomeDanger,
		}, pr.cfg.LogCap)
		return pr.store.CASProfile(ctx, fresh, version)
	})
	if res.Outcome != retry.Success {
		pr.log.Warn("spy detection log dropped", zap.String("target", target.ID), zap.Error(res.Err))
	}
	return nil
}

// --- Colonize ---

func (pr *Processor) handleColonize(ctx context.Context, m *types.FleetMission, now time.Time) error {
	if _, _, err := pr.store.ProfileAt(ctx, m.Target); err == nil {
		return pr.colonyFailed(m)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("check target slot: %w", err)
	}

	seed := types.NewProfile("", "", m.Target).Resources.Add(m.Cargo)
	err := pr.store.InsertPlanet(ctx, &types.Planet{
		ID:        uuid.NewString(),
		OwnerID:   m.OwnerID,
		Name:      "Colony " + m.Target.String(),
		Coords:    m.Target,
		Resources: seed,
		CreatedAt: now,
	})
	if errors.Is(err, store.ErrOccupied) {
		// Someone planted a flag between our check and our insert.
		return pr.colonyFailed(m)
	}
	if err != nil {
		return fmt.Errorf("insert planet: %w", err)
	}

	// One-way trip: the colony ship becomes the colony.
	m.Ships = map[types.UnitID]int{}
	m.Cargo = types.Resources{}
	m.Status = types.MissionCompleted
	m.Outcome = types.OutcomeSuccess
	m.Note = "colony founded at " + m.Target.String()
	return nil
}

// colonyFailed settles an occupied slot. The ship and cargo were paid at
// send time and stay lost; that is the documented price of racing for land.
func (pr *Processor) colonyFailed(m *types.FleetMission) error {
	m.Ships = map[types.UnitID]int{}
	m.Cargo = types.Resources{}
	m.Status = types.MissionCompleted
	m.Outcome = types.OutcomeFailure
	m.Note = "position " + m.Target.String() + " already occupied, colony ship lost"
	return nil
}

// --- Recycle ---

func (pr *Processor) handleRecycle(ctx context.Context, m *types.FleetMission) error {
	field, err := pr.store.Debris(ctx, m.Target)
	if err != nil {
		return fmt.Errorf("read debris: %w", err)
	}
	total := field.Total()
	if total <= 0 {
		m.Outcome = types.OutcomeNeutral
		m.Note = "debris field already harvested"
		return nil
	}

	capacity := float64(m.Ships[types.Recycler]) * pr.cfg.RecyclerCapacity
	take := math.Min(total, capacity)
	frac := take / total
	collected := types.Resources{
		Metal:   math.Floor(field.Metal * frac),
		Crystal: math.Floor(field.Crystal * frac),
	}
	field.Metal -= collected.Metal
	field.Crystal -= collected.Crystal
	if err := pr.store.WriteDebris(ctx, m.Target, field); err != nil {
		return fmt.Errorf("write debris remainder: %w", err)
	}

	m.Cargo = m.Cargo.Add(collected)
	m.Outcome = types.OutcomeSuccess
	m.Note = fmt.Sprintf("harvested %.0f metal and %.0f crystal", collected.Metal, collected.Crystal)
	return nil
}
