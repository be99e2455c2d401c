package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"starhold/pkg/types"
)

// SQLite is the file-backed RecordStore. Records are JSON blobs next to the
// columns the queries filter on; the version column carries the CAS.
type SQLite struct {
	db *sql.DB
}

var _ RecordStore = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	coords TEXT NOT NULL,
	data TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS planets (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	coords TEXT NOT NULL UNIQUE,
	data TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS missions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	target_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS debris (
	coords TEXT PRIMARY KEY,
	metal REAL NOT NULL,
	crystal REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	profile_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	blob BLOB NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_profile ON snapshots (profile_id, created_at);
CREATE INDEX IF NOT EXISTS idx_missions_owner ON missions (owner_id);
CREATE INDEX IF NOT EXISTS idx_missions_target ON missions (target_id);
`

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver multiplexes one file; more writers just queue on the lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// --- Profiles ---

func (s *SQLite) CreateProfile(ctx context.Context, p *types.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO profiles (id, coords, data, version) VALUES (?, ?, ?, 1)",
		p.ID, p.Coords.String(), string(raw))
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLite) Profile(ctx context.Context, id string) (*types.Profile, int64, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM profiles WHERE id = ?", id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	var p types.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, 0, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, version, nil
}

func (s *SQLite) CASProfile(ctx context.Context, p *types.Profile, version int64) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE profiles SET data = ?, coords = ?, version = version + 1 WHERE id = ? AND version = ?",
		string(raw), p.Coords.String(), p.ID, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM profiles WHERE id = ?", p.ID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return ErrVersionMismatch
	}
	return nil
}

func (s *SQLite) ProfileAt(ctx context.Context, at types.Coords) (*types.Profile, int64, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM profiles WHERE coords = ?", at.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx,
			"SELECT owner_id FROM planets WHERE coords = ?", at.String()).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return s.Profile(ctx, id)
}

// --- Planets ---

func (s *SQLite) InsertPlanet(ctx context.Context, pl *types.Planet) error {
	var occupied int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM profiles WHERE coords = ?", pl.Coords.String()).Scan(&occupied)
	if err == nil {
		return ErrOccupied
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	raw, err := json.Marshal(pl)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO planets (id, owner_id, coords, data, version) VALUES (?, ?, ?, ?, 1)",
		pl.ID, pl.OwnerID, pl.Coords.String(), string(raw))
	if err != nil && isUniqueViolation(err) {
		return ErrOccupied
	}
	return err
}

func (s *SQLite) Planet(ctx context.Context, id string) (*types.Planet, int64, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM planets WHERE id = ?", id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	var pl types.Planet
	if err := json.Unmarshal([]byte(raw), &pl); err != nil {
		return nil, 0, fmt.Errorf("decode planet %s: %w", id, err)
	}
	return &pl, version, nil
}

func (s *SQLite) CASPlanet(ctx context.Context, pl *types.Planet, version int64) error {
	raw, err := json.Marshal(pl)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE planets SET data = ?, version = version + 1 WHERE id = ? AND version = ?",
		string(raw), pl.ID, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM planets WHERE id = ?", pl.ID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return ErrVersionMismatch
	}
	return nil
}

func (s *SQLite) PlanetsByOwner(ctx context.Context, ownerID string) ([]types.Planet, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM planets WHERE owner_id = ?", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Planet
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var pl types.Planet
		if err := json.Unmarshal([]byte(raw), &pl); err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

// --- Missions ---

func (s *SQLite) InsertMission(ctx context.Context, m *types.FleetMission) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO missions (id, owner_id, target_id, status, data) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.OwnerID, m.TargetID, string(m.Status), string(raw))
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLite) Mission(ctx context.Context, id string) (*types.FleetMission, error) {
	var raw, status string
	err := s.db.QueryRowContext(ctx,
		"SELECT data, status FROM missions WHERE id = ?", id).Scan(&raw, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m types.FleetMission
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode mission %s: %w", id, err)
	}
	// The status column is authoritative; a claim may have flipped it after
	// the blob was written.
	m.Status = types.MissionStatus(status)
	return &m, nil
}

func (s *SQLite) ClaimMission(ctx context.Context, id string, from, to types.MissionStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE missions SET status = ? WHERE id = ? AND status = ?",
		string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM missions WHERE id = ?", id).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return ErrAlreadyClaimed
	}
	return nil
}

func (s *SQLite) UpdateMission(ctx context.Context, m *types.FleetMission) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE missions SET status = ?, data = ? WHERE id = ?",
		string(m.Status), string(raw), m.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) MissionsForPlayer(ctx context.Context, playerID string) ([]*types.FleetMission, error) {
	return s.queryMissions(ctx,
		"SELECT data, status FROM missions WHERE owner_id = ? OR (target_id != '' AND target_id = ?)",
		playerID, playerID)
}

func (s *SQLite) ActiveMissions(ctx context.Context) ([]*types.FleetMission, error) {
	return s.queryMissions(ctx,
		"SELECT data, status FROM missions WHERE status != ?", string(types.MissionCompleted))
}

func (s *SQLite) queryMissions(ctx context.Context, query string, args ...any) ([]*types.FleetMission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.FleetMission
	for rows.Next() {
		var raw, status string
		if err := rows.Scan(&raw, &status); err != nil {
			return nil, err
		}
		var m types.FleetMission
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
		m.Status = types.MissionStatus(status)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Debris ---

func (s *SQLite) Debris(ctx context.Context, at types.Coords) (types.Debris, error) {
	var d types.Debris
	err := s.db.QueryRowContext(ctx,
		"SELECT metal, crystal FROM debris WHERE coords = ?", at.String()).Scan(&d.Metal, &d.Crystal)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Debris{}, nil
	}
	return d, err
}

func (s *SQLite) WriteDebris(ctx context.Context, at types.Coords, d types.Debris) error {
	if d.Total() <= 0 {
		_, err := s.db.ExecContext(ctx, "DELETE FROM debris WHERE coords = ?", at.String())
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO debris (coords, metal, crystal) VALUES (?, ?, ?) "+
			"ON CONFLICT (coords) DO UPDATE SET metal = excluded.metal, crystal = excluded.crystal",
		at.String(), d.Metal, d.Crystal)
	return err
}

// --- Snapshots ---

func (s *SQLite) SaveSnapshot(ctx context.Context, p *types.Profile) (string, error) {
	blob, hash, err := encodeSnapshot(p)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO snapshots (profile_id, created_at, blob, hash) VALUES (?, ?, ?, ?)",
		p.ID, time.Now().UnixNano(), blob, hash)
	return hash, err
}

func (s *SQLite) LatestSnapshot(ctx context.Context, profileID string) (*types.Profile, string, error) {
	var blob []byte
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT blob, hash FROM snapshots WHERE profile_id = ? ORDER BY created_at DESC LIMIT 1",
		profileID).Scan(&blob, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	p, err := decodeSnapshot(blob)
	if err != nil {
		return nil, "", err
	}
	return p, hash, nil
}

func isUniqueViolation(err error) bool {
	// modernc surfaces constraint failures in the message; there is no typed
	// error to unwrap across driver versions.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
