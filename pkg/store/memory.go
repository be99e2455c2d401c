package store

import (
	"context"
	"sync"

	"starhold/pkg/types"
)

// Memory is the map-backed RecordStore. It mirrors the sqlite semantics
// exactly, which makes it the fast backend for tests and ephemeral worlds.
type Memory struct {
	mu sync.Mutex

	profiles        map[string]*types.Profile
	profileVersions map[string]int64

	planets        map[string]*types.Planet
	planetVersions map[string]int64
	occupied       map[string]string // coords key -> planet id

	missions map[string]*types.FleetMission

	debris map[string]types.Debris

	snapshots    map[string][]byte
	snapshotHash map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		profiles:        map[string]*types.Profile{},
		profileVersions: map[string]int64{},
		planets:         map[string]*types.Planet{},
		planetVersions:  map[string]int64{},
		occupied:        map[string]string{},
		missions:        map[string]*types.FleetMission{},
		debris:          map[string]types.Debris{},
		snapshots:       map[string][]byte{},
		snapshotHash:    map[string]string{},
	}
}

var _ RecordStore = (*Memory)(nil)

// --- Profiles ---

func (s *Memory) CreateProfile(_ context.Context, p *types.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return ErrDuplicate
	}
	s.profiles[p.ID] = p.Clone()
	s.profileVersions[p.ID] = 1
	return nil
}

func (s *Memory) Profile(_ context.Context, id string) (*types.Profile, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return p.Clone(), s.profileVersions[id], nil
}

func (s *Memory) CASProfile(_ context.Context, p *types.Profile, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.profileVersions[p.ID]
	if !ok {
		return ErrNotFound
	}
	if cur != version {
		return ErrVersionMismatch
	}
	s.profiles[p.ID] = p.Clone()
	s.profileVersions[p.ID] = version + 1
	return nil
}

func (s *Memory) ProfileAt(ctx context.Context, at types.Coords) (*types.Profile, int64, error) {
	s.mu.Lock()
	var ownerID string
	for id, p := range s.profiles {
		if p.Coords == at {
			ownerID = id
			break
		}
	}
	if ownerID == "" {
		if planetID, ok := s.occupied[at.String()]; ok {
			ownerID = s.planets[planetID].OwnerID
		}
	}
	s.mu.Unlock()
	if ownerID == "" {
		return nil, 0, ErrNotFound
	}
	return s.Profile(ctx, ownerID)
}

// --- Planets ---

func (s *Memory) InsertPlanet(_ context.Context, pl *types.Planet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pl.Coords.String()
	if _, ok := s.occupied[key]; ok {
		return ErrOccupied
	}
	for _, p := range s.profiles {
		if p.Coords == pl.Coords {
			return ErrOccupied
		}
	}
	cp := *pl
	s.planets[pl.ID] = &cp
	s.planetVersions[pl.ID] = 1
	s.occupied[key] = pl.ID
	return nil
}

func (s *Memory) Planet(_ context.Context, id string) (*types.Planet, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.planets[id]
	if !ok {
		return nil, 0, ErrNotFound
	}
	cp := *pl
	return &cp, s.planetVersions[id], nil
}

func (s *Memory) CASPlanet(_ context.Context, pl *types.Planet, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.planetVersions[pl.ID]
	if !ok {
		return ErrNotFound
	}
	if cur != version {
		return ErrVersionMismatch
	}
	cp := *pl
	s.planets[pl.ID] = &cp
	s.planetVersions[pl.ID] = version + 1
	return nil
}

func (s *Memory) PlanetsByOwner(_ context.Context, ownerID string) ([]types.Planet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Planet
	for _, pl := range s.planets {
		if pl.OwnerID == ownerID {
			out = append(out, *pl)
		}
	}
	return out, nil
}

// --- Missions ---

func cloneMission(m *types.FleetMission) *types.FleetMission {
	cp := *m
	cp.Ships = types.CloneUnits(m.Ships)
	return &cp
}

func (s *Memory) InsertMission(_ context.Context, m *types.FleetMission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; ok {
		return ErrDuplicate
	}
	s.missions[m.ID] = cloneMission(m)
	return nil
}

func (s *Memory) Mission(_ context.Context, id string) (*types.FleetMission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMission(m), nil
}

func (s *Memory) ClaimMission(_ context.Context, id string, from, to types.MissionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return ErrNotFound
	}
	if m.Status != from {
		return ErrAlreadyClaimed
	}
	m.Status = to
	return nil
}

func (s *Memory) UpdateMission(_ context.Context, m *types.FleetMission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; !ok {
		return ErrNotFound
	}
	s.missions[m.ID] = cloneMission(m)
	return nil
}

func (s *Memory) MissionsForPlayer(_ context.Context, playerID string) ([]*types.FleetMission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.FleetMission
	for _, m := range s.missions {
		if m.OwnerID == playerID || (m.TargetID != "" && m.TargetID == playerID) {
			out = append(out, cloneMission(m))
		}
	}
	return out, nil
}

func (s *Memory) ActiveMissions(_ context.Context) ([]*types.FleetMission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.FleetMission
	for _, m := range s.missions {
		if m.Status != types.MissionCompleted {
			out = append(out, cloneMission(m))
		}
	}
	return out, nil
}

// --- Debris ---

func (s *Memory) Debris(_ context.Context, at types.Coords) (types.Debris, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debris[at.String()], nil
}

func (s *Memory) WriteDebris(_ context.Context, at types.Coords, d types.Debris) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Total() <= 0 {
		delete(s.debris, at.String())
		return nil
	}
	s.debris[at.String()] = d
	return nil
}

// --- Snapshots ---

func (s *Memory) SaveSnapshot(_ context.Context, p *types.Profile) (string, error) {
	blob, hash, err := encodeSnapshot(p)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[p.ID] = blob
	s.snapshotHash[p.ID] = hash
	return hash, nil
}

func (s *Memory) LatestSnapshot(_ context.Context, profileID string) (*types.Profile, string, error) {
	s.mu.Lock()
	blob, ok := s.snapshots[profileID]
	hash := s.snapshotHash[profileID]
	s.mu.Unlock()
	if !ok {
		return nil, "", ErrNotFound
	}
	p, err := decodeSnapshot(blob)
	if err != nil {
		return nil, "", err
	}
	return p, hash, nil
}

func (s *Memory) Close() error { return nil }
