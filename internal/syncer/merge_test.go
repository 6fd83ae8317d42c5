package syncer

import (
	"testing"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(deviceID string, playlists ...snapshot.Playlist) *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		SchemaVersion: snapshot.SchemaVersion,
		DeviceID:      deviceID,
		DeviceName:    deviceID,
		Playlists:     playlists,
	}
	s.Normalize()
	return s
}

func songs(ids ...string) []snapshot.Song {
	out := make([]snapshot.Song, len(ids))
	for i, id := range ids {
		out[i] = snapshot.Song{ID: id, Name: "song " + id}
	}
	return out
}

func playlist(id, name string, modifiedAt int64, songIDs ...string) snapshot.Playlist {
	return snapshot.Playlist{
		ID:         id,
		Name:       name,
		Songs:      songs(songIDs...),
		CreatedAt:  1000,
		ModifiedAt: modifiedAt,
	}
}

func songIDs(p snapshot.Playlist) []string {
	ids := make([]string, len(p.Songs))
	for i, s := range p.Songs {
		ids[i] = s.ID
	}
	return ids
}

// --- playlists ---

func TestMerge_LocalOnlyPlaylistSurvives(t *testing.T) {
	local := testSnapshot("a", playlist("p1", "Road Trip", 100, "s1", "s2"))
	remote := testSnapshot("b")

	merged, report := Merge(local, remote, false)

	require.Len(t, merged.Playlists, 1)
	assert.Equal(t, "Road Trip", merged.Playlists[0].Name)
	assert.Equal(t, 1, report.PlaylistsAdded)
}

func TestMerge_RemoteOnlyPlaylistAdopted(t *testing.T) {
	local := testSnapshot("a")
	remote := testSnapshot("b", playlist("p1", "Focus", 100, "s1"))

	merged, report := Merge(local, remote, false)

	require.Len(t, merged.Playlists, 1)
	assert.Equal(t, "Focus", merged.Playlists[0].Name)
	assert.Equal(t, 1, report.PlaylistsAdded)
}

func TestMerge_TombstoneDominatesBothSides(t *testing.T) {
	dead := playlist("p1", "Old", 50, "s1")
	dead.IsDeleted = true

	// Even a newer live edit on the other side loses to the tombstone.
	live := playlist("p1", "Old renamed", 200, "s1", "s2")

	merged, report := Merge(testSnapshot("a", dead), testSnapshot("b", live), false)
	assert.Empty(t, merged.Playlists)
	assert.Equal(t, 1, report.PlaylistsDeleted)

	merged, report = Merge(testSnapshot("a", live), testSnapshot("b", dead), false)
	assert.Empty(t, merged.Playlists)
	assert.Equal(t, 1, report.PlaylistsDeleted)
}

func TestMerge_LocalTombstoneNotOnRemoteDropped(t *testing.T) {
	dead := playlist("p1", "Gone", 50)
	dead.IsDeleted = true

	merged, report := Merge(testSnapshot("a", dead), testSnapshot("b"), false)

	assert.Empty(t, merged.Playlists)
	assert.Equal(t, 1, report.PlaylistsDeleted)
	assert.Equal(t, 0, report.PlaylistsAdded)
}

func TestMerge_NameConflictLaterWins(t *testing.T) {
	local := testSnapshot("a", playlist("p1", "Mine", 100, "s1"))
	remote := testSnapshot("b", playlist("p1", "Theirs", 200, "s1"))

	merged, report := Merge(local, remote, false)

	require.Len(t, merged.Playlists, 1)
	assert.Equal(t, "Theirs", merged.Playlists[0].Name)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, ConflictName, report.Conflicts[0].Type)
}

func TestMerge_NameConflictTieKeepsLocal(t *testing.T) {
	local := testSnapshot("a", playlist("p1", "Mine", 100, "s1"))
	remote := testSnapshot("b", playlist("p1", "Theirs", 100, "s1"))

	merged, _ := Merge(local, remote, false)

	require.Len(t, merged.Playlists, 1)
	assert.Equal(t, "Mine", merged.Playlists[0].Name)
}

func TestMerge_EquivalentNormalizationNotAConflict(t *testing.T) {
	// "é" precomposed vs decomposed: the same title in two encodings.
	local := testSnapshot("a", playlist("p1", "Café", 100, "s1"))
	remote := testSnapshot("b", playlist("p1", "Café", 200, "s1"))

	_, report := Merge(local, remote, false)
	assert.Empty(t, report.Conflicts)
}

// --- song list rules ---

func TestMerge_RemoteEmptyGuard(t *testing.T) {
	// Remote is newer but carries an empty song list. Local songs must
	// survive regardless of the timestamps.
	local := testSnapshot("a", playlist("p1", "Keep", 100, "s1", "s2", "s3"))
	remote := testSnapshot("b", playlist("p1", "Keep", 999))

	merged, _ := Merge(local, remote, false)

	require.Len(t, merged.Playlists, 1)
	assert.Equal(t, []string{"s1", "s2", "s3"}, songIDs(merged.Playlists[0]))
}

func TestMerge_LocalEmptyAdoptsRemote(t *testing.T) {
	local := testSnapshot("a", playlist("p1", "Fill", 999))
	remote := testSnapshot("b", playlist("p1", "Fill", 100, "s1", "s2"))

	merged, _ := Merge(local, remote, false)

	require.Len(t, merged.Playlists, 1)
	assert.Equal(t, []string{"s1", "s2"}, songIDs(merged.Playlists[0]))
}

func TestMerge_FirstSyncBiasAdoptsRemote(t *testing.T) {
	// Both sides non-empty, local stamped later: on an ordinary sync the
	// local list would win, but a first sync trusts the established remote.
	local := testSnapshot("a", playlist("p1", "List", 999, "x1"))
	remote := testSnapshot("b", playlist("p1", "List", 100, "s1", "s2"))

	merged, _ := Merge(local, remote, true)
	assert.Equal(t, []string{"s1", "s2"}, songIDs(merged.Playlists[0]))

	merged, _ = Merge(local, remote, false)
	assert.Equal(t, []string{"x1"}, songIDs(merged.Playlists[0]))
}

func TestMerge_SongListAdoptedWholesale(t *testing.T) {
	// No element-wise union: the newer side's list replaces the other
	// entirely, including removals.
	local := testSnapshot("a", playlist("p1", "List", 100, "s1", "s2", "s3"))
	remote := testSnapshot("b", playlist("p1", "List", 200, "s2", "s4"))

	merged, report := Merge(local, remote, false)

	assert.Equal(t, []string{"s2", "s4"}, songIDs(merged.Playlists[0]))
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, ConflictSongs, report.Conflicts[0].Type)

	// Telemetry is the diff between the two input id-sets.
	assert.Equal(t, 2, report.SongsAdded, "s1 and s3 exist only locally")
	assert.Equal(t, 1, report.SongsRemoved, "s4 exists only remotely")
}

// --- favorites ---

func TestMerge_FavoritesUnionBySource(t *testing.T) {
	local := testSnapshot("a")
	local.FavoritePlaylists = []snapshot.FavoritePlaylist{
		{ID: "f1", Source: "netease", Name: "Chill", AddedTime: 100},
		{ID: "f1", Source: "bilibili", Name: "Chill Mirror", AddedTime: 100},
	}

	remote := testSnapshot("b")
	remote.FavoritePlaylists = []snapshot.FavoritePlaylist{
		{ID: "f1", Source: "netease", Name: "Chill Renamed", AddedTime: 300},
		{ID: "f2", Source: "netease", Name: "Jazz", AddedTime: 200},
	}

	merged, _ := Merge(local, remote, false)

	require.Len(t, merged.FavoritePlaylists, 3)

	byKey := make(map[string]snapshot.FavoritePlaylist)
	for _, f := range merged.FavoritePlaylists {
		byKey[f.Key()] = f
	}

	// The duplicate collapses to the later-added entry.
	assert.Equal(t, "Chill Renamed", byKey[snapshot.FavoritePlaylist{ID: "f1", Source: "netease"}.Key()].Name)
}

// --- recent plays ---

func TestMerge_RecentPlaysDedupAndCap(t *testing.T) {
	local := testSnapshot("a")
	remote := testSnapshot("b")

	for i := 0; i < 300; i++ {
		local.RecentPlays = append(local.RecentPlays, snapshot.RecentPlay{
			SongID: "s-local", PlayedAt: int64(1000 + i),
		})
		remote.RecentPlays = append(remote.RecentPlays, snapshot.RecentPlay{
			SongID: "s-remote", PlayedAt: int64(1000 + i),
		})
	}

	// 100 shared entries must not double up.
	shared := snapshot.RecentPlay{SongID: "s-shared", PlayedAt: 5000}
	local.RecentPlays = append(local.RecentPlays, shared)
	remote.RecentPlays = append(remote.RecentPlays, shared)

	merged, _ := Merge(local, remote, false)

	require.Len(t, merged.RecentPlays, snapshot.MaxRecentPlays)

	// Newest first; the shared entry is the newest and appears once.
	assert.Equal(t, "s-shared", merged.RecentPlays[0].SongID)
	assert.NotEqual(t, "s-shared", merged.RecentPlays[1].SongID)

	for i := 1; i < len(merged.RecentPlays); i++ {
		assert.GreaterOrEqual(t, merged.RecentPlays[i-1].PlayedAt, merged.RecentPlays[i].PlayedAt)
	}
}

// --- operation log ---

func TestMerge_OperationLogCapped(t *testing.T) {
	local := testSnapshot("a")
	remote := testSnapshot("b")

	for i := 0; i < 80; i++ {
		local.OperationLog = append(local.OperationLog, snapshot.OperationLogEntry{
			Timestamp: int64(1000 + i), DeviceID: "a", Action: "create_playlist",
		})
		remote.OperationLog = append(remote.OperationLog, snapshot.OperationLogEntry{
			Timestamp: int64(2000 + i), DeviceID: "b", Action: "delete_playlist",
		})
	}

	merged, _ := Merge(local, remote, false)

	require.Len(t, merged.OperationLog, snapshot.MaxOperationLog)
	assert.Equal(t, int64(2079), merged.OperationLog[0].Timestamp)
}

// --- idempotence ---

func TestMerge_SecondRunIsIdentity(t *testing.T) {
	dead := playlist("p3", "Dead", 150)
	dead.IsDeleted = true

	local := testSnapshot("a",
		playlist("p1", "Mine", 100, "s1", "s2"),
		playlist("p2", "Shared", 300, "s3"),
		dead,
	)
	local.FavoritePlaylists = []snapshot.FavoritePlaylist{{ID: "f1", Source: "netease", AddedTime: 10}}
	local.RecentPlays = []snapshot.RecentPlay{{SongID: "s1", PlayedAt: 500}}

	remote := testSnapshot("b",
		playlist("p2", "Shared Renamed", 400, "s3", "s4"),
		playlist("p4", "Remote Only", 120, "s5"),
	)
	remote.FavoritePlaylists = []snapshot.FavoritePlaylist{{ID: "f2", Source: "netease", AddedTime: 20}}
	remote.RecentPlays = []snapshot.RecentPlay{{SongID: "s5", PlayedAt: 600}}

	merged, report := Merge(local, remote, false)
	require.False(t, report.Empty())

	again, report2 := Merge(merged, merged, false)

	assert.True(t, report2.Empty(), "merging a snapshot with itself must be a no-op, got %+v", report2)
	assert.Equal(t, merged.Playlists, again.Playlists)
	assert.Equal(t, merged.FavoritePlaylists, again.FavoritePlaylists)
	assert.Equal(t, merged.RecentPlays, again.RecentPlays)
	assert.Equal(t, merged.OperationLog, again.OperationLog)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	local := testSnapshot("a", playlist("p1", "Mine", 100, "s1"))
	remote := testSnapshot("b", playlist("p1", "Theirs", 200, "s2", "s3"))

	merged, _ := Merge(local, remote, false)
	merged.Playlists[0].Songs[0].Name = "mutated"
	merged.Playlists[0].Name = "mutated"

	assert.Equal(t, "Mine", local.Playlists[0].Name)
	assert.Equal(t, "song s1", local.Playlists[0].Songs[0].Name)
	assert.Equal(t, "Theirs", remote.Playlists[0].Name)
	assert.Equal(t, "song s2", remote.Playlists[0].Songs[0].Name)
}
