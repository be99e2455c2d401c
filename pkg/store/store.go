// Package store is the durable record layer. Profiles and planets are
// versioned rows; every cross-session write is a compare-and-swap against
// the version the writer read, and a lost race surfaces as
// ErrVersionMismatch for the caller's retry loop.
package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"starhold/pkg/types"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("record already exists")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrAlreadyClaimed  = errors.New("mission already claimed")
	ErrOccupied        = errors.New("coordinates occupied")
)

// RecordStore is the persistence contract. Both the in-memory and the sqlite
// implementations satisfy it; tests run the same suite against both.
type RecordStore interface {
	CreateProfile(ctx context.Context, p *types.Profile) error
	Profile(ctx context.Context, id string) (*types.Profile, int64, error)
	// CASProfile commits p only if the stored version still matches.
	CASProfile(ctx context.Context, p *types.Profile, version int64) error
	// ProfileAt resolves the occupant of a coordinate: a home world first,
	// then the owner of a colony there.
	ProfileAt(ctx context.Context, at types.Coords) (*types.Profile, int64, error)

	InsertPlanet(ctx context.Context, pl *types.Planet) error
	Planet(ctx context.Context, id string) (*types.Planet, int64, error)
	CASPlanet(ctx context.Context, pl *types.Planet, version int64) error
	PlanetsByOwner(ctx context.Context, ownerID string) ([]types.Planet, error)

	InsertMission(ctx context.Context, m *types.FleetMission) error
	Mission(ctx context.Context, id string) (*types.FleetMission, error)
	// ClaimMission flips the status column only if it still reads from.
	// Exactly one of several concurrent claimants wins; the rest get
	// ErrAlreadyClaimed.
	ClaimMission(ctx context.Context, id string, from, to types.MissionStatus) error
	UpdateMission(ctx context.Context, m *types.FleetMission) error
	// MissionsForPlayer returns missions the player owns or is targeted by,
	// so a session can render both its fleets and incoming threats.
	MissionsForPlayer(ctx context.Context, playerID string) ([]*types.FleetMission, error)
	ActiveMissions(ctx context.Context) ([]*types.FleetMission, error)

	Debris(ctx context.Context, at types.Coords) (types.Debris, error)
	WriteDebris(ctx context.Context, at types.Coords, d types.Debris) error

	// SaveSnapshot stores a compressed point-in-time copy of the profile and
	// returns its content hash.
	SaveSnapshot(ctx context.Context, p *types.Profile) (string, error)
	LatestSnapshot(ctx context.Context, profileID string) (*types.Profile, string, error)

	Close() error
}

// --- Snapshot codec ---

// encodeSnapshot serializes a profile to an lz4 frame and hashes the raw
// JSON. The hash, not the frame, is what drift checks compare.
func encodeSnapshot(p *types.Profile) ([]byte, string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	sum := blake3.Sum256(raw)

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

func decodeSnapshot(blob []byte) (*types.Profile, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var p types.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &p, nil
}

// HashProfile returns the blake3 hex digest of a profile's canonical JSON.
// The session uses it to compare a resumed state against the last snapshot.
func HashProfile(p *types.Profile) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
