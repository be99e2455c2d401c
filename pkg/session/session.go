// Package session is the tick orchestrator. One session owns one player's
// in-memory state and drives it single-threaded: economy, queues, XP and
// levels, mission processing, and a best-effort persistence policy. The
// in-memory state is the source of truth between sync points.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"starhold/pkg/balance"
	"starhold/pkg/econ"
	"starhold/pkg/mission"
	"starhold/pkg/notify"
	"starhold/pkg/queue"
	"starhold/pkg/retry"
	"starhold/pkg/store"
	"starhold/pkg/types"
)

// Session drives one player's live state. Not safe for concurrent use; all
// mutation goes through Tick and the action methods on the same goroutine.
type Session struct {
	store    store.RecordStore
	cfg      *balance.Config
	log      *zap.Logger
	notify   notify.Notifier
	missions *mission.Processor

	Profile *types.Profile
	Queues  *queue.Manager

	version   int64
	persisted *types.Profile // durable state at the last successful write
	lastTick  time.Time
	snapshots *rate.Limiter
	backstop  *rate.Limiter
}

// Open loads a profile, replays the idle gap through the same production
// path the live tick uses, and runs the desync check against the last
// snapshot. Missions may be nil for a pure economy session.
func Open(ctx context.Context, s store.RecordStore, cfg *balance.Config, log *zap.Logger, n notify.Notifier, missions *mission.Processor, profileID string, now time.Time) (*Session, error) {
	if n == nil {
		n = notify.Nop{}
	}
	p, version, err := s.Profile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	sess := &Session{
		store:     s,
		cfg:       cfg,
		log:       log,
		notify:    n,
		missions:  missions,
		Profile:   p,
		Queues:    queue.NewManager(cfg),
		version:   version,
		persisted: p.Clone(),
		lastTick:  now,
		snapshots: rate.NewLimiter(rate.Every(cfg.SnapshotInterval), 1),
		backstop:  rate.NewLimiter(rate.Every(cfg.SnapshotInterval), 1),
	}

	sess.checkDesync(ctx)

	// Idle catch-up: one shot over the whole gap, identical formulas.
	if !p.UpdatedAt.IsZero() && now.After(p.UpdatedAt) {
		gap := now.Sub(p.UpdatedAt).Seconds()
		credited := econ.Apply(p, gap, cfg.GameSpeed)
		log.Info("idle catch-up applied",
			zap.String("profile", p.ID),
			zap.Float64("idle_seconds", gap),
			zap.Float64("credited", credited.Sum()))
	}
	return sess, nil
}

// checkDesync compares the loaded record against the last snapshot. Drift is
// expected (concurrent production, missions settling while offline); only a
// gap beyond the tolerance is worth flagging, and even then it is a warning,
// never a stop.
func (s *Session) checkDesync(ctx context.Context) {
	snap, snapHash, err := s.store.LatestSnapshot(ctx, s.Profile.ID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn("snapshot read failed during desync check", zap.Error(err))
		return
	}
	liveHash, err := store.HashProfile(s.Profile)
	if err != nil || liveHash == snapHash {
		return
	}
	base := math.Max(1, snap.Resources.Sum())
	drift := math.Abs(s.Profile.Resources.Sum()-snap.Resources.Sum()) / base
	if drift > s.cfg.DriftTolerance {
		s.log.Warn("state drifted beyond tolerance since last snapshot",
			zap.String("profile", s.Profile.ID),
			zap.Float64("drift", drift),
			zap.Float64("tolerance", s.cfg.DriftTolerance))
	}
}

// Tick advances the session to now. Persistence failures are logged and
// never block the next tick.
func (s *Session) Tick(ctx context.Context, now time.Time) {
	elapsed := now.Sub(s.lastTick).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	s.lastTick = now

	econ.Apply(s.Profile, elapsed, s.cfg.GameSpeed)
	adv := s.Queues.Advance(s.Profile, now)
	s.grantXP(adv.ResearchXP)
	flagged := s.checkUnlocks()

	if s.missions != nil {
		s.missions.ProcessArrivals(ctx, now)
		s.missions.ProcessReturns(ctx, now)
	}

	// Persist immediately on real events; otherwise the rate-limited
	// backstop keeps the durable copy from aging past the snapshot window.
	if len(adv.Completed) > 0 || flagged {
		s.persist(ctx, now)
	} else if s.backstop.Allow() {
		s.persist(ctx, now)
	}
}

// LevelFor maps accumulated XP to a level.
func LevelFor(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return int(math.Floor(math.Sqrt(float64(xp)/500))) + 1
}

// grantXP adds XP and settles any level crossings, granting 10+2l dark
// matter for each new level l.
func (s *Session) grantXP(xp int) {
	if xp <= 0 {
		return
	}
	s.Profile.XP += xp
	newLevel := LevelFor(s.Profile.XP)
	for l := s.Profile.Level + 1; l <= newLevel; l++ {
		s.Profile.Resources.DarkMatter += float64(10 + 2*l)
		s.notify.Notify("Level up", fmt.Sprintf("%s reached level %d", s.Profile.Name, l))
	}
	if newLevel > s.Profile.Level {
		s.Profile.Level = newLevel
	}
}

// checkUnlocks flips one-time feature flags. Crossing the point threshold
// permanently unlocks expeditions.
func (s *Session) checkUnlocks() bool {
	if s.Profile.Flags[mission.ExpeditionFlag] {
		return false
	}
	if econ.Points(s.Profile) < s.cfg.ExpeditionPoints {
		return false
	}
	s.Profile.Flags[mission.ExpeditionFlag] = true
	s.notify.Notify("Expeditions unlocked", "your empire may now venture into deep space")
	return true
}

// persist writes the live state. A version conflict means another writer
// (an inbound attack, a mission return) landed since our last write; the
// committed deltas are merged three-way and the write retried.
func (s *Session) persist(ctx context.Context, now time.Time) {
	s.Profile.UpdatedAt = now

	err := s.store.CASProfile(ctx, s.Profile, s.version)
	if err == nil {
		s.committed()
		s.maybeSnapshot(ctx)
		return
	}
	if !errors.Is(err, store.ErrVersionMismatch) {
		s.log.Warn("persist failed, will retry on a later tick",
			zap.String("profile", s.Profile.ID), zap.Error(err))
		return
	}

	res := retry.Do(ctx, s.cfg.MaxRetryAttempts, s.cfg.BackoffMin, s.cfg.BackoffMax,
		func(ctx context.Context) error {
			fresh, version, err := s.store.Profile(ctx, s.Profile.ID)
			if err != nil {
				return err
			}
			merged := mergeProfiles(s.persisted, s.Profile, fresh)
			merged.UpdatedAt = now
			if err := s.store.CASProfile(ctx, merged, version); err != nil {
				return err
			}
			s.Profile = merged
			s.version = version
			return nil
		},
		func(err error) bool { return errors.Is(err, store.ErrVersionMismatch) })
	if res.Outcome != retry.Success {
		s.log.Warn("persist conflict unresolved, keeping in-memory state",
			zap.String("profile", s.Profile.ID),
			zap.Int("attempts", res.Attempts), zap.Error(res.Err))
		return
	}
	s.committed()
	s.maybeSnapshot(ctx)
}

func (s *Session) committed() {
	s.version++
	s.persisted = s.Profile.Clone()
}

func (s *Session) maybeSnapshot(ctx context.Context) {
	if !s.snapshots.Allow() {
		return
	}
	if _, err := s.store.SaveSnapshot(ctx, s.Profile); err != nil {
		s.log.Warn("snapshot save failed", zap.Error(err))
	}
}

// mergeProfiles folds the session's uncommitted deltas (local minus base)
// onto the concurrently written fresh record. Count maps and scalars merge
// additively; logs and flags come from whichever side has them.
func mergeProfiles(base, local, fresh *types.Profile) *types.Profile {
	merged := fresh.Clone()

	merged.Resources = fresh.Resources.
		Add(local.Resources.Sub(base.Resources)).
		ClampTo(econ.Caps(merged))

	mergeCounts(merged.Buildings, local.Buildings, base.Buildings)
	mergeCounts(merged.Research, local.Research, base.Research)
	mergeCounts(merged.Ships, local.Ships, base.Ships)
	mergeCounts(merged.Defenses, local.Defenses, base.Defenses)

	merged.XP = fresh.XP + (local.XP - base.XP)
	merged.Level = LevelFor(merged.XP)

	for k, v := range local.Settings {
		merged.Settings[k] = v
	}
	for k, v := range local.Flags {
		if v {
			merged.Flags[k] = true
		}
	}
	return merged
}

func mergeCounts[K comparable](merged, local, base map[K]int) {
	for k, v := range local {
		merged[k] += v - base[k]
		if merged[k] < 0 {
			merged[k] = 0
		}
	}
}

// Run ticks the session on a fixed interval until the context ends, then
// makes a final persistence attempt.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.persist(context.WithoutCancel(ctx), time.Now())
			return
		case now := <-t.C:
			s.Tick(ctx, now)
		}
	}
}
