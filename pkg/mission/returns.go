package mission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"starhold/pkg/econ"
	"starhold/pkg/retry"
	"starhold/pkg/types"
)

// ProcessReturns merges every due returning mission back into its owner.
// The merge is idempotent: the deterministic log id in the owner's feed
// marks a return as already applied, so a duplicate trigger only flips the
// mission status.
func (pr *Processor) ProcessReturns(ctx context.Context, now time.Time) {
	missions, err := pr.store.ActiveMissions(ctx)
	if err != nil {
		pr.log.Error("scan active missions", zap.Error(err))
		return
	}
	for _, m := range missions {
		if m.Status != types.MissionReturning || m.ReturnTime.After(now) {
			continue
		}
		if err := pr.processReturn(ctx, m, now); err != nil {
			// Left in returning; the next pass retries.
			pr.log.Warn("mission return not settled",
				zap.String("mission", m.ID), zap.Error(err))
		}
	}
}

func (pr *Processor) processReturn(ctx context.Context, m *types.FleetMission, now time.Time) error {
	id := logID("return", m.ID)
	res := pr.retryWrite(ctx, func(ctx context.Context) error {
		owner, version, err := pr.store.Profile(ctx, m.OwnerID)
		if err != nil {
			return err
		}
		if owner.HasLog(id) {
			// Already credited by an earlier attempt that lost only its
			// status flip.
			return nil
		}
		mergeFleet(owner, m)
		owner.AppendLog(returnLog(id, m, now), pr.cfg.LogCap)
		return pr.store.CASProfile(ctx, owner, version)
	})
	if res.Outcome != retry.Success {
		return fmt.Errorf("%w: %s", ErrVersionExhausted, res.Err)
	}

	m.Status = types.MissionCompleted
	if err := pr.store.UpdateMission(ctx, m); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	pr.notify.Notify("Fleet returned", m.Note)
	return nil
}

// mergeFleet folds a mission's surviving ships and cargo into a fresh owner
// record. Storable resources clamp to the tanks; dark matter is uncapped.
func mergeFleet(owner *types.Profile, m *types.FleetMission) {
	for u, c := range m.Ships {
		owner.Ships[u] += c
	}
	owner.Resources = owner.Resources.Add(m.Cargo).ClampTo(econ.Caps(owner))
}

func returnLog(id string, m *types.FleetMission, now time.Time) types.MissionLog {
	outcome := m.Outcome
	if outcome == "" {
		outcome = types.OutcomeNeutral
	}
	l := types.MissionLog{
		ID:      id,
		Time:    now,
		Title:   "Fleet returned: " + string(m.Kind),
		Message: m.Note,
		Outcome: outcome,
		Battle:  m.Battle,
	}
	if !m.Cargo.IsZero() {
		cargo := m.Cargo
		l.Rewards = &cargo
	}
	return l
}

// Rescue force-completes flying missions whose arrival is overdue beyond the
// grace window. It bypasses arrival processing entirely: ships and cargo go
// straight home with a neutral log. This bounds the damage of any stuck
// state to one grace window.
func (pr *Processor) Rescue(ctx context.Context, now time.Time) {
	missions, err := pr.store.ActiveMissions(ctx)
	if err != nil {
		pr.log.Error("rescue scan", zap.Error(err))
		return
	}
	for _, m := range missions {
		if m.Status != types.MissionFlying || now.Sub(m.ArrivalTime) <= pr.cfg.RescueGrace {
			continue
		}
		if err := pr.rescueOne(ctx, m, now); err != nil {
			pr.log.Error("rescue failed", zap.String("mission", m.ID), zap.Error(err))
		}
	}
}

func (pr *Processor) rescueOne(ctx context.Context, m *types.FleetMission, now time.Time) error {
	// Claim first so two rescue passes cannot double-credit.
	if err := pr.store.ClaimMission(ctx, m.ID, types.MissionFlying, types.MissionProcessing); err != nil {
		return err
	}
	pr.log.Warn("rescuing stuck mission",
		zap.String("mission", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.Duration("overdue", now.Sub(m.ArrivalTime)))

	id := logID("rescue", m.ID)
	res := pr.retryWrite(ctx, func(ctx context.Context) error {
		owner, version, err := pr.store.Profile(ctx, m.OwnerID)
		if err != nil {
			return err
		}
		if owner.HasLog(id) {
			return nil
		}
		mergeFleet(owner, m)
		owner.AppendLog(types.MissionLog{
			ID:      id,
			Time:    now,
			Title:   "Fleet recovered",
			Message: "a stuck fleet was escorted home by traffic control",
			Outcome: types.OutcomeNeutral,
		}, pr.cfg.LogCap)
		return pr.store.CASProfile(ctx, owner, version)
	})
	if res.Outcome != retry.Success {
		return fmt.Errorf("credit rescued fleet: %w", res.Err)
	}

	m.Status = types.MissionCompleted
	m.Processed = true
	m.Outcome = types.OutcomeNeutral
	m.Note = "force-completed by rescue watcher"
	return pr.store.UpdateMission(ctx, m)
}

// RunRescueWatcher scans for stuck missions on a fixed interval until the
// context ends.
func (pr *Processor) RunRescueWatcher(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			pr.Rescue(ctx, now)
		}
	}
}
