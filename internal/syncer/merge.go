package syncer

import (
	"fmt"
	"sort"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
	"golang.org/x/text/unicode/norm"
)

// ConflictEntry describes one conflict the merge engine resolved. It is
// consumed by the UI and telemetry only; the resolution already happened.
type ConflictEntry struct {
	Type         string `json:"type"`
	PlaylistID   string `json:"playlistId"`
	PlaylistName string `json:"playlistName"`
	Description  string `json:"description"`
	Resolution   string `json:"resolution"`
}

// Conflict types.
const (
	ConflictName  = "name"
	ConflictSongs = "songs"
)

// Report is the structured diff the merge engine produces alongside the
// merged snapshot. Song counts are set differences for telemetry, not
// evidence of a per-song merge.
type Report struct {
	PlaylistsAdded   int             `json:"playlistsAdded"`
	PlaylistsUpdated int             `json:"playlistsUpdated"`
	PlaylistsDeleted int             `json:"playlistsDeleted"`
	SongsAdded       int             `json:"songsAdded"`
	SongsRemoved     int             `json:"songsRemoved"`
	Conflicts        []ConflictEntry `json:"conflicts,omitempty"`
}

// Empty reports whether the merge changed nothing and hit no conflicts.
func (r *Report) Empty() bool {
	return r.PlaylistsAdded == 0 && r.PlaylistsUpdated == 0 && r.PlaylistsDeleted == 0 &&
		r.SongsAdded == 0 && r.SongsRemoved == 0 && len(r.Conflicts) == 0
}

// Merge reconciles a locally-built snapshot with a remote-fetched one.
// There is no persisted common ancestor: the resolution relies on
// tombstones, timestamps and the emptiness heuristics below, in exactly
// this order. The precedence matters: the remote-empty guard in
// particular exists to stop a freshly-provisioned device from erasing
// playlists other devices contributed.
//
// Merge is a pure function over its inputs; it performs no I/O and never
// mutates either argument.
func Merge(local, remote *snapshot.Snapshot, firstSync bool) (*snapshot.Snapshot, *Report) {
	report := &Report{}

	merged := &snapshot.Snapshot{
		SchemaVersion: snapshot.SchemaVersion,
		DeviceID:      local.DeviceID,
		DeviceName:    local.DeviceName,
		LastModified:  max(local.LastModified, remote.LastModified),
	}

	merged.Playlists = mergePlaylists(local.Playlists, remote.Playlists, firstSync, report)
	merged.FavoritePlaylists = mergeFavorites(local.FavoritePlaylists, remote.FavoritePlaylists)
	merged.RecentPlays = mergeRecentPlays(local.RecentPlays, remote.RecentPlays)
	merged.OperationLog = mergeOperationLog(local.OperationLog, remote.OperationLog)

	merged.Normalize()

	return merged, report
}

// mergePlaylists processes the union of local and remote playlist IDs,
// local order first, then remote-only IDs in remote order.
func mergePlaylists(local, remote []snapshot.Playlist, firstSync bool, report *Report) []snapshot.Playlist {
	remoteByID := make(map[string]snapshot.Playlist, len(remote))
	for _, p := range remote {
		remoteByID[p.ID] = p
	}

	localIDs := make(map[string]struct{}, len(local))
	for _, p := range local {
		localIDs[p.ID] = struct{}{}
	}

	merged := []snapshot.Playlist{}

	for _, lp := range local {
		rp, onRemote := remoteByID[lp.ID]

		if !onRemote {
			if lp.IsDeleted {
				report.PlaylistsDeleted++
				continue
			}

			merged = append(merged, clonePlaylist(lp))
			report.PlaylistsAdded++

			continue
		}

		// Present on both sides: a tombstone on either dominates.
		if lp.IsDeleted || rp.IsDeleted {
			report.PlaylistsDeleted++
			continue
		}

		merged = append(merged, mergePlaylist(lp, rp, firstSync, report))
	}

	for _, rp := range remote {
		if _, onLocal := localIDs[rp.ID]; onLocal {
			continue
		}

		if rp.IsDeleted {
			report.PlaylistsDeleted++
			continue
		}

		merged = append(merged, clonePlaylist(rp))
		report.PlaylistsAdded++
	}

	return merged
}

// mergePlaylist reconciles a playlist present, live, on both sides.
func mergePlaylist(lp, rp snapshot.Playlist, firstSync bool, report *Report) snapshot.Playlist {
	out := snapshot.Playlist{
		ID: lp.ID,
		// createdAt is the first-seen stamp; the local record carries it.
		CreatedAt: lp.CreatedAt,
	}

	nameFromRemote := false
	out.Name = lp.Name

	if norm.NFC.String(lp.Name) != norm.NFC.String(rp.Name) {
		// Later modification wins; ties keep local.
		winner, side := lp.Name, "local"
		if rp.ModifiedAt > lp.ModifiedAt {
			winner, side = rp.Name, "remote"
			nameFromRemote = true
		}

		out.Name = winner
		report.Conflicts = append(report.Conflicts, ConflictEntry{
			Type:         ConflictName,
			PlaylistID:   lp.ID,
			PlaylistName: winner,
			Description:  fmt.Sprintf("local title %q vs remote title %q", lp.Name, rp.Name),
			Resolution:   side + " title kept",
		})
	}

	// Ordered song list, first matching rule wins. The list is adopted
	// wholesale from one side, never merged element-wise.
	songsFromRemote := false

	switch {
	case len(rp.Songs) == 0 && len(lp.Songs) > 0:
		// Remote-empty guard: an empty remote list (e.g. a fresh device's
		// first write) must not wipe local songs, whatever its timestamp.

	case len(lp.Songs) == 0 && len(rp.Songs) > 0:
		songsFromRemote = true

	case firstSync && len(rp.Songs) > 0:
		// A brand-new client must not clobber what other devices built.
		songsFromRemote = true

	case rp.ModifiedAt > lp.ModifiedAt:
		songsFromRemote = true
	}

	chosen := lp.Songs
	if songsFromRemote {
		chosen = rp.Songs
	}

	out.Songs = cloneSongs(chosen)

	// modifiedAt follows the chosen side(s), max when both contributed.
	switch {
	case nameFromRemote != songsFromRemote:
		out.ModifiedAt = max(lp.ModifiedAt, rp.ModifiedAt)
	case songsFromRemote:
		out.ModifiedAt = rp.ModifiedAt
	default:
		out.ModifiedAt = lp.ModifiedAt
	}

	added, removed := songSetDiff(lp.Songs, rp.Songs)
	report.SongsAdded += added
	report.SongsRemoved += removed

	if songsFromRemote && len(lp.Songs) > 0 && !sameSongIDs(lp.Songs, rp.Songs) {
		report.Conflicts = append(report.Conflicts, ConflictEntry{
			Type:         ConflictSongs,
			PlaylistID:   out.ID,
			PlaylistName: out.Name,
			Description:  fmt.Sprintf("both sides edited the song list (%d local vs %d remote)", len(lp.Songs), len(rp.Songs)),
			Resolution:   "remote list kept",
		})
	}

	if out.Name != lp.Name || !sameSongIDs(out.Songs, lp.Songs) {
		report.PlaylistsUpdated++
	}

	return out
}

// mergeFavorites unions by (id, source); duplicates collapse to the entry
// with the greatest addedTime, local winning ties.
func mergeFavorites(local, remote []snapshot.FavoritePlaylist) []snapshot.FavoritePlaylist {
	merged := []snapshot.FavoritePlaylist{}
	index := make(map[string]int)

	for _, f := range append(append([]snapshot.FavoritePlaylist{}, local...), remote...) {
		at, seen := index[f.Key()]
		if !seen {
			index[f.Key()] = len(merged)
			merged = append(merged, f)

			continue
		}

		if f.AddedTime > merged[at].AddedTime {
			merged[at] = f
		}
	}

	return merged
}

// mergeRecentPlays unions both histories, deduplicates by
// (songId, playedAt), sorts newest first and caps the result.
func mergeRecentPlays(local, remote []snapshot.RecentPlay) []snapshot.RecentPlay {
	type playKey struct {
		songID   string
		playedAt int64
	}

	seen := make(map[playKey]struct{})
	merged := []snapshot.RecentPlay{}

	for _, p := range append(append([]snapshot.RecentPlay{}, local...), remote...) {
		k := playKey{songID: p.SongID, playedAt: p.PlayedAt}
		if _, dup := seen[k]; dup {
			continue
		}

		seen[k] = struct{}{}
		merged = append(merged, p)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].PlayedAt != merged[j].PlayedAt {
			return merged[i].PlayedAt > merged[j].PlayedAt
		}

		return merged[i].SongID < merged[j].SongID
	})

	if len(merged) > snapshot.MaxRecentPlays {
		merged = merged[:snapshot.MaxRecentPlays]
	}

	return merged
}

// mergeOperationLog unions both logs, deduplicates by timestamp, sorts
// newest first and caps the result. Advisory only: nothing in the merge
// reads it back.
func mergeOperationLog(local, remote []snapshot.OperationLogEntry) []snapshot.OperationLogEntry {
	seen := make(map[int64]struct{})
	merged := []snapshot.OperationLogEntry{}

	for _, e := range append(append([]snapshot.OperationLogEntry{}, local...), remote...) {
		if _, dup := seen[e.Timestamp]; dup {
			continue
		}

		seen[e.Timestamp] = struct{}{}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})

	if len(merged) > snapshot.MaxOperationLog {
		merged = merged[:snapshot.MaxOperationLog]
	}

	return merged
}

// songSetDiff counts ids present only locally and ids present only
// remotely. Telemetry for the report, not a per-song merge.
func songSetDiff(local, remote []snapshot.Song) (added, removed int) {
	remoteIDs := make(map[string]struct{}, len(remote))
	for _, s := range remote {
		remoteIDs[s.ID] = struct{}{}
	}

	localIDs := make(map[string]struct{}, len(local))
	for _, s := range local {
		localIDs[s.ID] = struct{}{}

		if _, ok := remoteIDs[s.ID]; !ok {
			added++
		}
	}

	for id := range remoteIDs {
		if _, ok := localIDs[id]; !ok {
			removed++
		}
	}

	return added, removed
}

// sameSongIDs reports whether two song lists carry the same ids in the
// same order.
func sameSongIDs(a, b []snapshot.Song) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}

	return true
}

func clonePlaylist(p snapshot.Playlist) snapshot.Playlist {
	out := p
	out.Songs = cloneSongs(p.Songs)

	return out
}

func cloneSongs(songs []snapshot.Song) []snapshot.Song {
	out := make([]snapshot.Song, len(songs))
	copy(out, songs)

	return out
}
