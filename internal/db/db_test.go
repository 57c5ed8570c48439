package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndLookup(t *testing.T) {
	db := newTestDB(t)

	c := RepeaterContact{
		PublicKey:  "5fab34c2d1e0",
		Name:       "Hilltop Repeater",
		DeviceType: "repeater",
		LastSeen:   time.Now(),
		IsActive:   true,
	}
	require.NoError(t, db.UpsertRepeater(c))

	got, err := db.LookupByPrefix("5f")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hilltop Repeater", got[0].Name)

	// Upsert refreshes in place, no duplicate row.
	c.Name = "Hilltop Repeater v2"
	require.NoError(t, db.UpsertRepeater(c))

	got, err = db.LookupByPrefix("5f")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hilltop Repeater v2", got[0].Name)
}

func TestLookupPrefixCollision(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "11aa", Name: "North", LastSeen: now.Add(-time.Hour), IsActive: true}))
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "11bb", Name: "South", LastSeen: now, IsActive: true}))
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "98cc", Name: "East", LastSeen: now, IsActive: true}))

	got, err := db.LookupByPrefix("11")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most recently seen first among active contacts.
	assert.Equal(t, "South", got[0].Name)
}

func TestLookupOrdersInactiveLast(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "a401", Name: "Retired", LastSeen: now, IsActive: false}))
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "a402", Name: "Live", LastSeen: now.Add(-time.Hour), IsActive: true}))

	got, err := db.LookupByPrefix("a4")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Live", got[0].Name)
}

func TestResolveHops(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "5fab", Name: "Hilltop", LastSeen: now, IsActive: true}))
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "1101", Name: "North", LastSeen: now, IsActive: true}))
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "1102", Name: "South", LastSeen: now, IsActive: true}))

	res, err := db.ResolveHops([]string{"5f", "11", "99"})
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.True(t, res[0].Found)
	assert.Equal(t, "Hilltop", res[0].Name)
	assert.Equal(t, 1, res[0].Matches)

	assert.True(t, res[1].Found)
	assert.Equal(t, 2, res[1].Matches, "prefix collision must be reported")

	assert.False(t, res[2].Found)
	assert.Zero(t, res[2].Matches)
}

func TestRecordAdvertRefreshesLastSeen(t *testing.T) {
	db := newTestDB(t)

	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, db.UpsertRepeater(RepeaterContact{PublicKey: "cd99", Name: "Valley", LastSeen: old, IsActive: true}))

	now := time.Now()
	require.NoError(t, db.RecordAdvert("cd99", "Valley", now))

	got, err := db.LookupByPrefix("cd")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.WithinDuration(t, now, got[0].LastSeen, time.Second)

	// Adverts for unknown nodes are still logged without creating a contact.
	require.NoError(t, db.RecordAdvert("ffee", "Stranger", now))
	got, err = db.LookupByPrefix("ff")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMigrateVersionFreshDatabase(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion("../../migrations")
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}
