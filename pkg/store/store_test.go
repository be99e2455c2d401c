package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starhold/pkg/types"
)

// Every test runs against both backends; behaviour must not diverge.
func backends(t *testing.T) map[string]RecordStore {
	t.Helper()
	sq, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]RecordStore{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestProfileRoundTripAndCAS(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := types.NewProfile("p1", "Ada", types.Coords{Galaxy: 1, System: 2, Position: 3})
			p.Buildings[types.MetalMine] = 4

			require.NoError(t, s.CreateProfile(ctx, p))
			assert.ErrorIs(t, s.CreateProfile(ctx, p), ErrDuplicate)

			got, v1, err := s.Profile(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), v1)
			assert.Equal(t, 4, got.Buildings[types.MetalMine])

			got.Resources.Metal = 999
			require.NoError(t, s.CASProfile(ctx, got, v1))

			// A write against the stale version must lose.
			assert.ErrorIs(t, s.CASProfile(ctx, got, v1), ErrVersionMismatch)

			got2, v2, err := s.Profile(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), v2)
			assert.Equal(t, 999.0, got2.Resources.Metal)

			_, _, err = s.Profile(ctx, "ghost")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestProfileAtResolvesHomeAndColony(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			home := types.Coords{Galaxy: 1, System: 1, Position: 4}
			colony := types.Coords{Galaxy: 1, System: 9, Position: 2}
			require.NoError(t, s.CreateProfile(ctx, types.NewProfile("p1", "Ada", home)))
			require.NoError(t, s.InsertPlanet(ctx, &types.Planet{
				ID: "pl1", OwnerID: "p1", Coords: colony, CreatedAt: time.Now(),
			}))

			got, _, err := s.ProfileAt(ctx, home)
			require.NoError(t, err)
			assert.Equal(t, "p1", got.ID)

			got, _, err = s.ProfileAt(ctx, colony)
			require.NoError(t, err)
			assert.Equal(t, "p1", got.ID)

			_, _, err = s.ProfileAt(ctx, types.Coords{Galaxy: 9, System: 9, Position: 9})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestInsertPlanetRejectsOccupiedSlot(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := types.Coords{Galaxy: 2, System: 5, Position: 7}
			require.NoError(t, s.InsertPlanet(ctx, &types.Planet{ID: "a", OwnerID: "p1", Coords: at}))

			err := s.InsertPlanet(ctx, &types.Planet{ID: "b", OwnerID: "p2", Coords: at})
			assert.ErrorIs(t, err, ErrOccupied)

			// A home world blocks the slot just like a colony does.
			home := types.Coords{Galaxy: 3, System: 1, Position: 1}
			require.NoError(t, s.CreateProfile(ctx, types.NewProfile("p3", "Eve", home)))
			err = s.InsertPlanet(ctx, &types.Planet{ID: "c", OwnerID: "p2", Coords: home})
			assert.ErrorIs(t, err, ErrOccupied)
		})
	}
}

func TestPlanetCAS(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			pl := &types.Planet{ID: "pl1", OwnerID: "p1", Coords: types.Coords{Galaxy: 1, System: 2, Position: 8}}
			require.NoError(t, s.InsertPlanet(ctx, pl))

			got, v, err := s.Planet(ctx, "pl1")
			require.NoError(t, err)
			got.Resources.Metal = 500
			require.NoError(t, s.CASPlanet(ctx, got, v))
			assert.ErrorIs(t, s.CASPlanet(ctx, got, v), ErrVersionMismatch)

			owned, err := s.PlanetsByOwner(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, owned, 1)
			assert.Equal(t, 500.0, owned[0].Resources.Metal)
		})
	}
}

func TestClaimMissionIsExclusive(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := &types.FleetMission{
				ID: "m1", OwnerID: "p1", Kind: types.MissionAttack,
				Ships:  map[types.UnitID]int{types.LightFighter: 5},
				Status: types.MissionFlying,
			}
			require.NoError(t, s.InsertMission(ctx, m))

			require.NoError(t, s.ClaimMission(ctx, "m1", types.MissionFlying, types.MissionProcessing))
			// A second claimant sees the flipped status and backs off.
			assert.ErrorIs(t,
				s.ClaimMission(ctx, "m1", types.MissionFlying, types.MissionProcessing),
				ErrAlreadyClaimed)

			got, err := s.Mission(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, types.MissionProcessing, got.Status)

			assert.ErrorIs(t,
				s.ClaimMission(ctx, "ghost", types.MissionFlying, types.MissionProcessing),
				ErrNotFound)
		})
	}
}

func TestActiveMissionsExcludesCompleted(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := &types.FleetMission{ID: "a", OwnerID: "p1", Status: types.MissionFlying}
			b := &types.FleetMission{ID: "b", OwnerID: "p1", Status: types.MissionReturning}
			require.NoError(t, s.InsertMission(ctx, a))
			require.NoError(t, s.InsertMission(ctx, b))

			b.Status = types.MissionCompleted
			require.NoError(t, s.UpdateMission(ctx, b))

			active, err := s.ActiveMissions(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "a", active[0].ID)

			owned, err := s.MissionsForPlayer(ctx, "p1")
			require.NoError(t, err)
			assert.Len(t, owned, 2)
		})
	}
}

func TestMissionsForPlayerSeesInboundFleets(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inbound := &types.FleetMission{
				ID: "raid", OwnerID: "p1", TargetID: "p2",
				Kind: types.MissionAttack, Status: types.MissionFlying,
			}
			npc := &types.FleetMission{
				ID: "farm", OwnerID: "p1",
				Kind: types.MissionAttack, Status: types.MissionFlying,
			}
			require.NoError(t, s.InsertMission(ctx, inbound))
			require.NoError(t, s.InsertMission(ctx, npc))

			// The defender sees the raid heading its way, nothing else.
			theirs, err := s.MissionsForPlayer(ctx, "p2")
			require.NoError(t, err)
			require.Len(t, theirs, 1)
			assert.Equal(t, "raid", theirs[0].ID)

			// The attacker sees both of its fleets.
			mine, err := s.MissionsForPlayer(ctx, "p1")
			require.NoError(t, err)
			assert.Len(t, mine, 2)
		})
	}
}

func TestDebrisRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := types.Coords{Galaxy: 1, System: 4, Position: 6}

			d, err := s.Debris(ctx, at)
			require.NoError(t, err)
			assert.True(t, d.Total() == 0, "empty space has no field")

			require.NoError(t, s.WriteDebris(ctx, at, types.Debris{Metal: 900, Crystal: 300}))
			d, err = s.Debris(ctx, at)
			require.NoError(t, err)
			assert.Equal(t, 1200.0, d.Total())

			// Writing an empty field clears the row.
			require.NoError(t, s.WriteDebris(ctx, at, types.Debris{}))
			d, err = s.Debris(ctx, at)
			require.NoError(t, err)
			assert.True(t, d.Total() == 0)
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := types.NewProfile("p1", "Ada", types.Coords{Galaxy: 1, System: 1, Position: 4})
			p.XP = 1234
			p.Ships[types.Cruiser] = 7

			hash, err := s.SaveSnapshot(ctx, p)
			require.NoError(t, err)
			require.NotEmpty(t, hash)

			restored, storedHash, err := s.LatestSnapshot(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, hash, storedHash)
			assert.Equal(t, 1234, restored.XP)
			assert.Equal(t, 7, restored.Ships[types.Cruiser])

			// The content hash is stable for identical state.
			direct, err := HashProfile(p)
			require.NoError(t, err)
			assert.Equal(t, hash, direct)

			_, _, err = s.LatestSnapshot(ctx, "ghost")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
