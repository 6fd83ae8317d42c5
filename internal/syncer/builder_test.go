package syncer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/config"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/library"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
)

func testBuilderLibrary(t *testing.T) *library.Library {
	t.Helper()
	l, err := library.OpenAt(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBuild_StampsIdentity(t *testing.T) {
	lib := testBuilderLibrary(t)
	b := NewBuilder(lib, "device-1", "Living Room", config.DefaultRules(), nil)

	now := time.UnixMilli(1700000000000)
	snap, err := b.Build(now)
	require.NoError(t, err)

	assert.Equal(t, snapshot.SchemaVersion, snap.SchemaVersion)
	assert.Equal(t, "device-1", snap.DeviceID)
	assert.Equal(t, "Living Room", snap.DeviceName)
	assert.Equal(t, now.UnixMilli(), snap.LastModified)
	assert.NotNil(t, snap.Playlists)
	assert.NotNil(t, snap.FavoritePlaylists)
	assert.NotNil(t, snap.RecentPlays)
	assert.NotNil(t, snap.OperationLog)
}

func TestBuild_IncludesTombstones(t *testing.T) {
	lib := testBuilderLibrary(t)
	require.NoError(t, lib.SavePlaylist(playlist("p1", "Doomed", 100, "s1")))
	require.NoError(t, lib.DeletePlaylist("p1", time.UnixMilli(200)))

	b := NewBuilder(lib, "d", "d", config.DefaultRules(), nil)

	snap, err := b.Build(time.Now())
	require.NoError(t, err)
	require.Len(t, snap.Playlists, 1)
	assert.True(t, snap.Playlists[0].IsDeleted)
}

func TestBuild_RulesDisableCollections(t *testing.T) {
	lib := testBuilderLibrary(t)
	require.NoError(t, lib.SavePlaylist(playlist("p1", "List", 100, "s1")))
	require.NoError(t, lib.AddFavorite(snapshot.FavoritePlaylist{ID: "f1", Source: "netease"}))
	require.NoError(t, lib.RecordPlay(snapshot.RecentPlay{SongID: "s1", PlayedAt: 100}))

	rules := config.Rules{Playlists: false, Favorites: false, RecentPlays: true}
	b := NewBuilder(lib, "d", "d", rules, nil)

	snap, err := b.Build(time.Now())
	require.NoError(t, err)
	assert.Empty(t, snap.Playlists)
	assert.Empty(t, snap.FavoritePlaylists)
	assert.Len(t, snap.RecentPlays, 1)
}

func TestBuild_RewritesLocalCovers(t *testing.T) {
	lib := testBuilderLibrary(t)

	p := playlist("p1", "List", 100)
	p.Songs = []snapshot.Song{
		{ID: "s1", CoverRef: "https://cdn.example.com/a.jpg"},
		{ID: "s2", CoverRef: "/home/user/.covers/b.jpg"},
		{ID: "s3", CoverRef: "file:///home/user/.covers/c.jpg", CustomCover: "/home/user/d.png"},
	}
	require.NoError(t, lib.SavePlaylist(p))

	b := NewBuilder(lib, "d", "d", config.DefaultRules(), BaseURLResolver("https://covers.example.com/"))

	snap, err := b.Build(time.Now())
	require.NoError(t, err)
	require.Len(t, snap.Playlists, 1)

	got := snap.Playlists[0].Songs
	assert.Equal(t, "https://cdn.example.com/a.jpg", got[0].CoverRef)
	assert.Equal(t, "https://covers.example.com/b.jpg", got[1].CoverRef)
	assert.Equal(t, "https://covers.example.com/c.jpg", got[2].CoverRef)
	assert.Equal(t, "https://covers.example.com/d.png", got[2].CustomCover)
}

func TestBuild_DropsUnresolvableLocalCovers(t *testing.T) {
	lib := testBuilderLibrary(t)

	p := playlist("p1", "List", 100)
	p.Songs = []snapshot.Song{
		{ID: "s1", CoverRef: "/home/user/.covers/a.jpg"},
		{ID: "s2", CoverRef: "https://cdn.example.com/keep.jpg"},
	}
	require.NoError(t, lib.SavePlaylist(p))

	b := NewBuilder(lib, "d", "d", config.DefaultRules(), nil)

	snap, err := b.Build(time.Now())
	require.NoError(t, err)

	got := snap.Playlists[0].Songs
	assert.Empty(t, got[0].CoverRef, "device-local path must not leak into a snapshot")
	assert.Equal(t, "https://cdn.example.com/keep.jpg", got[1].CoverRef)
}

func TestBaseURLResolver_EmptyBaseDropsEverything(t *testing.T) {
	resolver := BaseURLResolver("")

	_, ok := resolver("/home/user/a.jpg")
	assert.False(t, ok)
}
