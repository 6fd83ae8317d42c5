// Package snapshot defines the versioned wire model for everything that
// syncs between devices: playlists, favorited collections, recent plays
// and a small advisory operation log. A Snapshot is a disposable
// projection of local state, built fresh for every sync attempt; the
// authoritative copy always lives in the local library.
package snapshot

import "time"

// SchemaVersion is the current wire schema version. Payloads carrying a
// higher version than this fail to decode rather than silently dropping
// fields.
const SchemaVersion = 2

const (
	// MaxRecentPlays bounds the recent-plays list, newest first.
	MaxRecentPlays = 500

	// MaxOperationLog bounds the operation log, newest first.
	MaxOperationLog = 100
)

// Snapshot is one device's complete view of syncable state at one instant.
type Snapshot struct {
	SchemaVersion     int                 `json:"schemaVersion"`
	DeviceID          string              `json:"deviceId"`
	DeviceName        string              `json:"deviceName"`
	LastModified      int64               `json:"lastModified"`
	Playlists         []Playlist          `json:"playlists"`
	FavoritePlaylists []FavoritePlaylist  `json:"favoritePlaylists"`
	RecentPlays       []RecentPlay        `json:"recentPlays"`
	OperationLog      []OperationLogEntry `json:"operationLog"`
}

// Playlist is a user playlist. IsDeleted is a tombstone: deleted playlists
// stay in the snapshot so the deletion propagates to peers that have not
// seen it yet.
type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Songs      []Song `json:"songs"`
	CreatedAt  int64  `json:"createdAt"`
	ModifiedAt int64  `json:"modifiedAt"`
	IsDeleted  bool   `json:"isDeleted"`
}

// Song is the sync projection of a track. CoverRef must be a
// network-resolvable reference; the snapshot builder rewrites device-local
// paths before a Song enters a Snapshot.
type Song struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	AlbumID    string `json:"albumId,omitempty"`
	DurationMs int64  `json:"durationMs"`
	CoverRef   string `json:"coverRef,omitempty"`

	// Matched lyrics, if the player has bound this track to a lyric source.
	LyricSourceID string `json:"lyricSourceId,omitempty"`
	LyricOffsetMs int64  `json:"lyricOffsetMs,omitempty"`

	// User overrides, with the original values shadowed for revert.
	CustomName     string `json:"customName,omitempty"`
	CustomArtist   string `json:"customArtist,omitempty"`
	CustomCover    string `json:"customCover,omitempty"`
	OriginalName   string `json:"originalName,omitempty"`
	OriginalArtist string `json:"originalArtist,omitempty"`
	OriginalCover  string `json:"originalCover,omitempty"`
}

// FavoritePlaylist is a favorited external collection. Identity is the
// (ID, Source) pair; the same collection ID can exist on several sources.
type FavoritePlaylist struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Name       string `json:"name"`
	CoverRef   string `json:"coverRef,omitempty"`
	TrackCount int    `json:"trackCount"`
	Songs      []Song `json:"songs"`
	AddedTime  int64  `json:"addedTime"`
}

// Key returns the identity key for deduplication.
func (f FavoritePlaylist) Key() string {
	return f.ID + "\x00" + f.Source
}

// RecentPlay is one play-history entry. Identity is (SongID, PlayedAt).
type RecentPlay struct {
	SongID   string `json:"songId"`
	Song     Song   `json:"song"`
	PlayedAt int64  `json:"playedAt"`
	DeviceID string `json:"deviceId,omitempty"`
}

// OperationLogEntry records a user action for diagnostics. The log is
// advisory: merge decisions never depend on it.
type OperationLogEntry struct {
	ID         string `json:"id,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	DeviceID   string `json:"deviceId"`
	Action     string `json:"action"`
	PlaylistID string `json:"playlistId,omitempty"`
	SongID     string `json:"songId,omitempty"`
	Details    string `json:"details,omitempty"`
}

// New returns an empty snapshot stamped with the current schema version
// and device identity.
func New(deviceID, deviceName string, now time.Time) *Snapshot {
	return &Snapshot{
		SchemaVersion:     SchemaVersion,
		DeviceID:          deviceID,
		DeviceName:        deviceName,
		LastModified:      now.UnixMilli(),
		Playlists:         []Playlist{},
		FavoritePlaylists: []FavoritePlaylist{},
		RecentPlays:       []RecentPlay{},
		OperationLog:      []OperationLogEntry{},
	}
}

// Normalize replaces nil collections with empty ones. The two wire formats
// do not round-trip the nil/empty distinction identically, and callers
// iterate the collections without nil checks, so every snapshot entering
// or leaving the codec is normalized.
func (s *Snapshot) Normalize() {
	if s.Playlists == nil {
		s.Playlists = []Playlist{}
	}

	if s.FavoritePlaylists == nil {
		s.FavoritePlaylists = []FavoritePlaylist{}
	}

	if s.RecentPlays == nil {
		s.RecentPlays = []RecentPlay{}
	}

	if s.OperationLog == nil {
		s.OperationLog = []OperationLogEntry{}
	}

	for i := range s.Playlists {
		if s.Playlists[i].Songs == nil {
			s.Playlists[i].Songs = []Song{}
		}
	}

	for i := range s.FavoritePlaylists {
		if s.FavoritePlaylists[i].Songs == nil {
			s.FavoritePlaylists[i].Songs = []Song{}
		}
	}
}
