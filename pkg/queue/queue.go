// Package queue advances the three build pipelines: the capacity-limited
// building queue, the single-slot research queue and the unbounded shipyard
// FIFO. Enqueueing debits stock atomically and hands back a rollback closure
// so a rejected durable write can undo the local mutation.
package queue

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"starhold/pkg/balance"
	"starhold/pkg/econ"
	"starhold/pkg/types"
)

var (
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrQueueFull             = errors.New("queue full")
	ErrRequirementNotMet     = errors.New("requirement not met")
	ErrFacilityRequired      = errors.New("production facility required")
	ErrNotCancellable        = errors.New("item cannot be cancelled")
	ErrUnknownItem           = errors.New("unknown queue item")
)

// Rollback undoes a local enqueue (re-credits stock, drops the item). Called
// when the durable write that should have accompanied the enqueue fails.
type Rollback func()

// Manager owns the three queues of one profile. It is not safe for
// concurrent use; the session's single-writer loop is the only caller.
type Manager struct {
	cfg *balance.Config

	Building []types.ConstructionItem
	Research []types.ConstructionItem
	Shipyard []types.ConstructionItem
}

func NewManager(cfg *balance.Config) *Manager {
	return &Manager{cfg: cfg}
}

// --- Durations ---

// buildDuration implements the shared formula for buildings and research:
// ((metal+crystal)/rate) hours, divided by assisting facility level + 1 and
// by game speed, with a one second floor.
func (m *Manager) buildDuration(cost types.Resources, rate float64, assistLevel int) time.Duration {
	ms := (cost.Metal + cost.Crystal) / rate * 3600000.0
	ms /= float64(assistLevel + 1)
	ms /= m.cfg.GameSpeed
	if ms < float64(m.cfg.MinBuildMs) {
		ms = float64(m.cfg.MinBuildMs)
	}
	return time.Duration(math.Floor(ms)) * time.Millisecond
}

// unitDuration is per-unit base seconds over shipyard level + 1, times the
// quantity. Game speed deliberately does not apply to unit construction.
func (m *Manager) unitDuration(u types.UnitID, quantity, shipyardLevel int) time.Duration {
	single := balance.Units[u].BaseBuildSeconds * 1000.0 / float64(shipyardLevel+1)
	return time.Duration(math.Floor(single*float64(quantity))) * time.Millisecond
}

// queueTail returns when the next item of a queue could start.
func queueTail(q []types.ConstructionItem, now time.Time) time.Time {
	if len(q) == 0 {
		return now
	}
	return q[len(q)-1].EndTime
}

// --- Enqueue ---

// EnqueueBuilding queues the next level of a building. Levels already queued
// for the same building count towards the target.
func (m *Manager) EnqueueBuilding(p *types.Profile, b types.BuildingID, now time.Time) (types.ConstructionItem, Rollback, error) {
	def, ok := balance.Buildings[b]
	if !ok {
		return types.ConstructionItem{}, nil, fmt.Errorf("%w: %s", ErrUnknownItem, b)
	}
	if len(m.Building) >= m.cfg.MaxBuildingQueue {
		return types.ConstructionItem{}, nil, ErrQueueFull
	}
	// The robot factory gates all other construction but must itself be
	// buildable from nothing.
	if b != types.RobotFactory && p.Buildings[types.RobotFactory] <= 0 {
		return types.ConstructionItem{}, nil, fmt.Errorf("%w: robot factory", ErrFacilityRequired)
	}
	if !econ.MeetsRequirements(p, def.Requires) {
		return types.ConstructionItem{}, nil, ErrRequirementNotMet
	}

	pending := 0
	for _, it := range m.Building {
		if it.Building == b {
			pending++
		}
	}
	target := p.Buildings[b] + pending + 1
	cost := econ.Cost(def.BaseCost, target-1)
	if !p.Resources.Covers(cost) {
		return types.ConstructionItem{}, nil, ErrInsufficientResources
	}

	start := queueTail(m.Building, now)
	item := types.ConstructionItem{
		ID:          uuid.NewString(),
		Kind:        types.QueueBuilding,
		Building:    b,
		TargetLevel: target,
		StartTime:   start,
		EndTime:     start.Add(m.buildDuration(cost, m.cfg.BuildingBuildRate, p.Buildings[types.RobotFactory])),
	}

	p.Resources = p.Resources.Sub(cost)
	m.Building = append(m.Building, item)

	rollback := func() {
		p.Resources = p.Resources.Add(cost)
		m.remove(&m.Building, item.ID)
	}
	return item, rollback, nil
}

// EnqueueResearch queues the next level of a research line. The lab is
// occupied exclusively: one job at a time.
func (m *Manager) EnqueueResearch(p *types.Profile, r types.ResearchID, now time.Time) (types.ConstructionItem, Rollback, error) {
	def, ok := balance.Research[r]
	if !ok {
		return types.ConstructionItem{}, nil, fmt.Errorf("%w: %s", ErrUnknownItem, r)
	}
	if len(m.Research) >= 1 {
		return types.ConstructionItem{}, nil, ErrQueueFull
	}
	if p.Buildings[types.ResearchLab] <= 0 {
		return types.ConstructionItem{}, nil, fmt.Errorf("%w: research lab", ErrFacilityRequired)
	}
	if !econ.MeetsRequirements(p, def.Requires) {
		return types.ConstructionItem{}, nil, ErrRequirementNotMet
	}

	target := p.Research[r] + 1
	cost := econ.Cost(def.BaseCost, target-1)
	if !p.Resources.Covers(cost) {
		return types.ConstructionItem{}, nil, ErrInsufficientResources
	}

	item := types.ConstructionItem{
		ID:          uuid.NewString(),
		Kind:        types.QueueResearch,
		Research:    r,
		TargetLevel: target,
		StartTime:   now,
		EndTime:     now.Add(m.buildDuration(cost, m.cfg.ResearchBuildRate, p.Buildings[types.ResearchLab])),
	}

	p.Resources = p.Resources.Sub(cost)
	m.Research = append(m.Research, item)

	rollback := func() {
		p.Resources = p.Resources.Add(cost)
		m.remove(&m.Research, item.ID)
	}
	return item, rollback, nil
}

// EnqueueUnits queues a batch of ships or defenses on the shipyard FIFO.
func (m *Manager) EnqueueUnits(p *types.Profile, u types.UnitID, quantity int, now time.Time) (types.ConstructionItem, Rollback, error) {
	def, ok := balance.Units[u]
	if !ok || quantity <= 0 {
		return types.ConstructionItem{}, nil, fmt.Errorf("%w: %s", ErrUnknownItem, u)
	}
	if p.Buildings[types.Shipyard] <= 0 {
		return types.ConstructionItem{}, nil, fmt.Errorf("%w: shipyard", ErrFacilityRequired)
	}
	if !econ.MeetsRequirements(p, balance.UnitRequirements[u]) {
		return types.ConstructionItem{}, nil, ErrRequirementNotMet
	}

	cost := econ.UnitCost(u, quantity)
	if !p.Resources.Covers(cost) {
		return types.ConstructionItem{}, nil, ErrInsufficientResources
	}

	kind := types.QueueShip
	if def.IsDefense {
		kind = types.QueueDefense
	}
	start := queueTail(m.Shipyard, now)
	item := types.ConstructionItem{
		ID:        uuid.NewString(),
		Kind:      kind,
		Unit:      u,
		Quantity:  quantity,
		StartTime: start,
		EndTime:   start.Add(m.unitDuration(u, quantity, p.Buildings[types.Shipyard])),
	}

	p.Resources = p.Resources.Sub(cost)
	m.Shipyard = append(m.Shipyard, item)

	rollback := func() {
		p.Resources = p.Resources.Add(cost)
		m.remove(&m.Shipyard, item.ID)
	}
	return item, rollback, nil
}

// --- Advance ---

// AdvanceResult lists what a pass completed and the XP earned from research.
type AdvanceResult struct {
	Completed  []types.ConstructionItem
	ResearchXP int
}

// Advance applies every due building/research item against a fixed now, then
// drains the shipyard head-first while the front item is due. Remaining
// building items keep their original absolute times.
func (m *Manager) Advance(p *types.Profile, now time.Time) AdvanceResult {
	var res AdvanceResult

	keepB := m.Building[:0]
	for _, it := range m.Building {
		if !it.EndTime.After(now) {
			p.Buildings[it.Building] = it.TargetLevel
			res.Completed = append(res.Completed, it)
			continue
		}
		keepB = append(keepB, it)
	}
	m.Building = keepB

	keepR := m.Research[:0]
	for _, it := range m.Research {
		if !it.EndTime.After(now) {
			p.Research[it.Research] = it.TargetLevel
			res.ResearchXP += it.TargetLevel * it.TargetLevel * 10
			res.Completed = append(res.Completed, it)
			continue
		}
		keepR = append(keepR, it)
	}
	m.Research = keepR

	// FIFO: only the head may finish, but keep draining while it is due.
	for len(m.Shipyard) > 0 && !m.Shipyard[0].EndTime.After(now) {
		head := m.Shipyard[0]
		m.Shipyard = m.Shipyard[1:]
		if head.Kind == types.QueueDefense {
			p.Defenses[head.Unit] += head.Quantity
		} else {
			p.Ships[head.Unit] += head.Quantity
		}
		res.Completed = append(res.Completed, head)
	}

	return res
}

// --- Cancel ---

// Cancel refunds a queued building or research job and closes the timing gap
// it leaves: every later item in the same queue shifts earlier, keeping its
// original duration.
func (m *Manager) Cancel(p *types.Profile, itemID string, now time.Time) error {
	for _, q := range []*[]types.ConstructionItem{&m.Building, &m.Research} {
		for i, it := range *q {
			if it.ID != itemID {
				continue
			}
			refund := m.refundFor(it)
			p.Resources = p.Resources.Add(refund).ClampTo(econ.Caps(p))

			*q = append((*q)[:i], (*q)[i+1:]...)
			recompact(*q, i, now)
			return nil
		}
	}
	for _, it := range m.Shipyard {
		if it.ID == itemID {
			return ErrNotCancellable
		}
	}
	return ErrUnknownItem
}

// refundFor returns the price that was actually paid at enqueue time: the
// cost of the level one below the target.
func (m *Manager) refundFor(it types.ConstructionItem) types.Resources {
	switch it.Kind {
	case types.QueueBuilding:
		return econ.Cost(balance.Buildings[it.Building].BaseCost, it.TargetLevel-1)
	case types.QueueResearch:
		return econ.Cost(balance.Research[it.Research].BaseCost, it.TargetLevel-1)
	}
	return types.Resources{}
}

// recompact shifts items from index onward so each starts when its
// predecessor ends (or now, for the new first item). Durations are kept.
func recompact(q []types.ConstructionItem, from int, now time.Time) {
	for i := from; i < len(q); i++ {
		dur := q[i].Duration()
		if i == 0 {
			q[i].StartTime = now
		} else {
			q[i].StartTime = q[i-1].EndTime
		}
		q[i].EndTime = q[i].StartTime.Add(dur)
	}
}

func (m *Manager) remove(q *[]types.ConstructionItem, id string) {
	for i, it := range *q {
		if it.ID == id {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return
		}
	}
}

// Pending reports whether any queue holds work.
func (m *Manager) Pending() bool {
	return len(m.Building)+len(m.Research)+len(m.Shipyard) > 0
}
