package syncer

import (
	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
	"golang.org/x/text/unicode/norm"
)

// recentPlayWindow is how many recent-play entries the change detector
// compares. The history churns constantly; differences deep in the tail
// are not worth an upload on their own.
const recentPlayWindow = 50

// Changed reports whether uploading merged would actually change the
// remote document. It compares the collections that matter: playlist
// names and song-id sequences by playlist id, the favorite key-set, and
// the first recentPlayWindow plays in order. The operation log, device
// identity and modification stamps are excluded: none of those justify
// network cost on their own.
func Changed(merged, remote *snapshot.Snapshot) bool {
	if len(merged.Playlists) != len(remote.Playlists) {
		return true
	}

	remoteByID := make(map[string]snapshot.Playlist, len(remote.Playlists))
	for _, p := range remote.Playlists {
		remoteByID[p.ID] = p
	}

	for _, mp := range merged.Playlists {
		rp, ok := remoteByID[mp.ID]
		if !ok {
			return true
		}

		if norm.NFC.String(mp.Name) != norm.NFC.String(rp.Name) {
			return true
		}

		if !sameSongIDs(mp.Songs, rp.Songs) {
			return true
		}
	}

	if len(merged.FavoritePlaylists) != len(remote.FavoritePlaylists) {
		return true
	}

	remoteFavs := make(map[string]struct{}, len(remote.FavoritePlaylists))
	for _, f := range remote.FavoritePlaylists {
		remoteFavs[f.Key()] = struct{}{}
	}

	for _, f := range merged.FavoritePlaylists {
		if _, ok := remoteFavs[f.Key()]; !ok {
			return true
		}
	}

	return !sameRecentPlays(merged.RecentPlays, remote.RecentPlays)
}

// sameRecentPlays compares the leading window of both histories by
// (songId, playedAt) pairs, in order.
func sameRecentPlays(a, b []snapshot.RecentPlay) bool {
	an := min(len(a), recentPlayWindow)
	bn := min(len(b), recentPlayWindow)

	if an != bn {
		return false
	}

	for i := 0; i < an; i++ {
		if a[i].SongID != b[i].SongID || a[i].PlayedAt != b[i].PlayedAt {
			return false
		}
	}

	return true
}
