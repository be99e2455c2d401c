// Package mission drives the fleet lifecycle: flying, processing at arrival,
// returning, completed. All cross-profile effects go through version-checked
// store writes; the processing claim itself is a status CAS so at most one
// worker ever handles an arrival.
package mission

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"starhold/pkg/balance"
	"starhold/pkg/notify"
	"starhold/pkg/retry"
	"starhold/pkg/store"
	"starhold/pkg/types"
)

var (
	ErrNotEnoughShips   = errors.New("not enough ships")
	ErrCargoTooHeavy    = errors.New("cargo exceeds fleet capacity")
	ErrCargoUncovered   = errors.New("insufficient resources for cargo")
	ErrColonyShipNeeded = errors.New("colonize requires a colony ship")
	ErrRecyclerNeeded   = errors.New("recycle requires a recycler")
	ErrExpeditionLocked = errors.New("expeditions not yet unlocked")
	ErrVersionExhausted = errors.New("write conflict persisted, please retry")
)

// ExpeditionFlag is the one-time profile flag that unlocks expedition sends.
const ExpeditionFlag = "expeditions"

// Processor handles mission arrivals and returns against the record store.
type Processor struct {
	store  store.RecordStore
	cfg    *balance.Config
	log    *zap.Logger
	notify notify.Notifier
}

func NewProcessor(s store.RecordStore, cfg *balance.Config, log *zap.Logger, n notify.Notifier) *Processor {
	if n == nil {
		n = notify.Nop{}
	}
	return &Processor{store: s, cfg: cfg, log: log, notify: n}
}

// travelSeconds is the one-way flight time, dominated by the slowest ship.
func travelSeconds(distance float64, ships map[types.UnitID]int) float64 {
	slowest := math.Inf(1)
	for u, c := range ships {
		if c <= 0 {
			continue
		}
		if s := balance.Units[u].Speed; s < slowest {
			slowest = s
		}
	}
	if math.IsInf(slowest, 1) || slowest <= 0 {
		return 10
	}
	return 10 + 35*math.Sqrt(10*distance/slowest)
}

// CargoCapacity sums the fleet's hold space.
func CargoCapacity(ships map[types.UnitID]int) float64 {
	total := 0.0
	for u, c := range ships {
		total += balance.Units[u].Cargo * float64(c)
	}
	return total
}

// Send deducts ships and cargo from the owner, commits the deduction with a
// version-checked write, and only then creates the mission record. The order
// matters: a fleet must never exist both at home and in transit.
//
// p is mutated in place on success; on any failure it is restored and the
// durable state is unchanged. The returned version is the owner's new one.
func (pr *Processor) Send(ctx context.Context, p *types.Profile, version int64, kind types.MissionKind, ships map[types.UnitID]int, cargo types.Resources, target types.Coords, now time.Time) (*types.FleetMission, int64, error) {
	ships = types.CloneUnits(ships)
	if len(ships) == 0 {
		return nil, version, ErrNotEnoughShips
	}
	for u, c := range ships {
		if p.Ships[u] < c {
			return nil, version, fmt.Errorf("%w: %s", ErrNotEnoughShips, u)
		}
	}
	switch kind {
	case types.MissionColonize:
		if ships[types.ColonyShip] < 1 {
			return nil, version, ErrColonyShipNeeded
		}
	case types.MissionRecycle:
		if ships[types.Recycler] < 1 {
			return nil, version, ErrRecyclerNeeded
		}
	case types.MissionExpedition:
		if !p.Flags[ExpeditionFlag] {
			return nil, version, ErrExpeditionLocked
		}
	}
	if cargo.Sum() > CargoCapacity(ships) {
		return nil, version, ErrCargoTooHeavy
	}
	if !p.Resources.Covers(cargo) {
		return nil, version, ErrCargoUncovered
	}

	// Local deduction with a rollback patch, then the durable commit.
	for u, c := range ships {
		p.Ships[u] -= c
	}
	p.Resources = p.Resources.Sub(cargo)
	rollback := func() {
		for u, c := range ships {
			p.Ships[u] += c
		}
		p.Resources = p.Resources.Add(cargo)
	}

	if err := pr.store.CASProfile(ctx, p, version); err != nil {
		rollback()
		return nil, version, fmt.Errorf("commit fleet deduction: %w", err)
	}
	version++

	// Resolve the defender at dispatch so the target's session can surface
	// the inbound fleet. Empty space and NPCs leave it blank.
	var targetID string
	if occupant, _, err := pr.store.ProfileAt(ctx, target); err == nil {
		targetID = occupant.ID
	}

	travel := time.Duration(travelSeconds(p.Coords.Distance(target), ships) * float64(time.Second))
	m := &types.FleetMission{
		ID:          uuid.NewString(),
		OwnerID:     p.ID,
		TargetID:    targetID,
		Kind:        kind,
		Ships:       ships,
		Cargo:       cargo,
		Origin:      p.Coords,
		Target:      target,
		StartTime:   now,
		ArrivalTime: now.Add(travel),
		Status:      types.MissionFlying,
	}
	if kind != types.MissionColonize {
		m.ReturnTime = m.ArrivalTime.Add(travel)
	}

	if err := pr.store.InsertMission(ctx, m); err != nil {
		// The fleet is durably gone but the mission never materialized; put
		// it back with a fresh write.
		rollback()
		if casErr := pr.store.CASProfile(ctx, p, version); casErr != nil {
			pr.log.Error("fleet restore after failed mission insert lost",
				zap.String("owner", p.ID), zap.Error(casErr))
		} else {
			version++
		}
		return nil, version, fmt.Errorf("insert mission: %w", err)
	}
	return m, version, nil
}

// Cancel recalls a flying fleet. The fleet turns around on the spot: arrival
// collapses to now and the return countdown equals the time already
// traveled. No arrival side effects fire. Cancelling a returning or
// completed mission is a no-op.
func (pr *Processor) Cancel(ctx context.Context, missionID string, now time.Time) error {
	// Claim the flying->returning transition before touching the record.
	// Losing the claim means an arrival worker owns the mission already;
	// the recall quietly does nothing and the settled outcome stands.
	err := pr.store.ClaimMission(ctx, missionID, types.MissionFlying, types.MissionReturning)
	if errors.Is(err, store.ErrAlreadyClaimed) {
		return nil
	}
	if err != nil {
		return err
	}
	m, err := pr.store.Mission(ctx, missionID)
	if err != nil {
		return err
	}
	elapsed := now.Sub(m.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	m.ArrivalTime = now
	m.ReturnTime = now.Add(elapsed)
	m.Status = types.MissionReturning
	m.Processed = true
	m.Outcome = types.OutcomeNeutral
	m.Note = "fleet recalled before arrival"
	return pr.store.UpdateMission(ctx, m)
}

// Incoming lists fleets other players have flying at the given profile,
// minus threats whose arrival is already past the configured grace.
func (pr *Processor) Incoming(ctx context.Context, playerID string, now time.Time) ([]*types.FleetMission, error) {
	missions, err := pr.store.MissionsForPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	var inbound []*types.FleetMission
	for _, m := range missions {
		if m.OwnerID == playerID {
			continue
		}
		inbound = append(inbound, m)
	}
	return FilterIncoming(inbound, now, pr.cfg.IncomingGrace), nil
}

// FilterIncoming drops flying missions whose arrival is more than grace in
// the past; they are stale threats another worker is already settling.
func FilterIncoming(missions []*types.FleetMission, now time.Time, grace time.Duration) []*types.FleetMission {
	var out []*types.FleetMission
	for _, m := range missions {
		if m.Status != types.MissionFlying {
			continue
		}
		if m.ArrivalTime.Before(now.Add(-grace)) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// retryWrite runs fn under the configured optimistic-retry policy, treating
// only version conflicts as transient.
func (pr *Processor) retryWrite(ctx context.Context, fn func(context.Context) error) retry.Result {
	return pr.retryOn(ctx, fn, func(err error) bool {
		return errors.Is(err, store.ErrVersionMismatch)
	})
}

func (pr *Processor) retryOn(ctx context.Context, fn func(context.Context) error, transient func(error) bool) retry.Result {
	return retry.Do(ctx, pr.cfg.MaxRetryAttempts, pr.cfg.BackoffMin, pr.cfg.BackoffMax, fn, transient)
}

// logID derives the deterministic idempotency key for a mission-scoped log
// entry. The same mission event always produces the same id, so a duplicate
// merge attempt is visible in the owner's log.
func logID(scope, missionID string) string {
	sum := blake3.Sum256([]byte(scope + ":" + missionID))
	return hex.EncodeToString(sum[:8])
}
