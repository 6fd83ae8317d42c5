// Package library is the device-local store for playlists, favorited
// collections, play history and the operation log. The sync engine reads
// whole collections out of it and writes merged collections back in; the
// player mutates it through the Save/Delete/Record calls.
package library

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
	bolt "go.etcd.io/bbolt"
)

const (
	libraryDirPerm  = fs.FileMode(0o700)
	libraryFilePerm = fs.FileMode(0o600)
	openTimeout     = 5 * time.Second
)

var (
	playlistsBucket = []byte("playlists")
	favoritesBucket = []byte("favorites")
	recentsBucket   = []byte("recent_plays")
	oplogBucket     = []byte("operation_log")
)

// Repositories is the collaborator surface the sync engine depends on.
// *Library satisfies it.
type Repositories interface {
	CurrentPlaylists() ([]snapshot.Playlist, error)
	CurrentFavorites() ([]snapshot.FavoritePlaylist, error)
	CurrentRecentPlays(limit int) ([]snapshot.RecentPlay, error)
	CurrentOperations() ([]snapshot.OperationLogEntry, error)
	ApplyMergedPlaylists(playlists []snapshot.Playlist) error
	ApplyMergedFavorites(favorites []snapshot.FavoritePlaylist) error
	ApplyMergedRecentPlays(plays []snapshot.RecentPlay) error
	PurgePlaylists(ids []string) error
}

// Library wraps a bbolt database holding the local music collections.
type Library struct {
	db   *bolt.DB
	path string
}

// OpenAt opens the library database at the given path, creating it and
// its buckets if needed.
func OpenAt(path string) (*Library, error) {
	if err := os.MkdirAll(filepath.Dir(path), libraryDirPerm); err != nil {
		return nil, fmt.Errorf("creating library directory: %w", err)
	}

	db, err := bolt.Open(path, libraryFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening library db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{playlistsBucket, favoritesBucket, recentsBucket, oplogBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing library db: %w", err)
	}

	return &Library{db: db, path: path}, nil
}

// Close closes the database.
func (l *Library) Close() error {
	return l.db.Close()
}

// Path returns the database file path. The sync trigger watches it.
func (l *Library) Path() string {
	return l.path
}

// CurrentPlaylists returns every playlist, tombstoned ones included,
// ordered by creation time then ID so snapshot builds are deterministic.
func (l *Library) CurrentPlaylists() ([]snapshot.Playlist, error) {
	playlists := []snapshot.Playlist{}

	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(playlistsBucket).ForEach(func(_, v []byte) error {
			var p snapshot.Playlist
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}

			playlists = append(playlists, p)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading playlists: %w", err)
	}

	sort.Slice(playlists, func(i, j int) bool {
		if playlists[i].CreatedAt != playlists[j].CreatedAt {
			return playlists[i].CreatedAt < playlists[j].CreatedAt
		}

		return playlists[i].ID < playlists[j].ID
	})

	return playlists, nil
}

// SavePlaylist inserts or replaces a playlist.
func (l *Library) SavePlaylist(p snapshot.Playlist) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}

		return tx.Bucket(playlistsBucket).Put([]byte(p.ID), data)
	})
}

// DeletePlaylist tombstones a playlist rather than removing it, so the
// deletion propagates to other devices on the next sync. The record is
// physically removed later by PurgePlaylists once the tombstone has
// round-tripped through the remote.
func (l *Library) DeletePlaylist(id string, now time.Time) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(playlistsBucket)

		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}

		var p snapshot.Playlist
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}

		p.IsDeleted = true
		p.ModifiedAt = now.UnixMilli()

		data, err := json.Marshal(p)
		if err != nil {
			return err
		}

		return b.Put([]byte(id), data)
	})
}

// PurgePlaylists physically removes playlist records. Only called for
// tombstoned playlists whose deletion has been uploaded.
func (l *Library) PurgePlaylists(ids []string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(playlistsBucket)

		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}

		return nil
	})
}

// ApplyMergedPlaylists replaces the playlist collection with the merged
// result in a single transaction.
func (l *Library) ApplyMergedPlaylists(playlists []snapshot.Playlist) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(playlistsBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(playlistsBucket)
		if err != nil {
			return err
		}

		for _, p := range playlists {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// CurrentFavorites returns the favorited collections, most recently
// added first.
func (l *Library) CurrentFavorites() ([]snapshot.FavoritePlaylist, error) {
	favorites := []snapshot.FavoritePlaylist{}

	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(favoritesBucket).ForEach(func(_, v []byte) error {
			var f snapshot.FavoritePlaylist
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			favorites = append(favorites, f)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading favorites: %w", err)
	}

	sort.Slice(favorites, func(i, j int) bool {
		if favorites[i].AddedTime != favorites[j].AddedTime {
			return favorites[i].AddedTime > favorites[j].AddedTime
		}

		return favorites[i].Key() < favorites[j].Key()
	})

	return favorites, nil
}

// AddFavorite inserts or replaces a favorited collection, keyed by
// (id, source).
func (l *Library) AddFavorite(f snapshot.FavoritePlaylist) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}

		return tx.Bucket(favoritesBucket).Put([]byte(f.Key()), data)
	})
}

// RemoveFavorite deletes a favorited collection by (id, source).
func (l *Library) RemoveFavorite(id, source string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		key := snapshot.FavoritePlaylist{ID: id, Source: source}.Key()

		return tx.Bucket(favoritesBucket).Delete([]byte(key))
	})
}

// ApplyMergedFavorites replaces the favorites collection with the merged
// result in a single transaction.
func (l *Library) ApplyMergedFavorites(favorites []snapshot.FavoritePlaylist) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(favoritesBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(favoritesBucket)
		if err != nil {
			return err
		}

		for _, f := range favorites {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(f.Key()), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// recentKey orders entries newest-first under forward cursor iteration:
// the inverted timestamp sorts descending by play time, with the song ID
// appended so simultaneous plays of different songs both survive.
func recentKey(p snapshot.RecentPlay) []byte {
	key := make([]byte, 8, 8+len(p.SongID))
	binary.BigEndian.PutUint64(key, uint64(math.MaxInt64-p.PlayedAt))

	return append(key, p.SongID...)
}

// CurrentRecentPlays returns up to limit play-history entries, newest
// first. A non-positive limit returns everything.
func (l *Library) CurrentRecentPlays(limit int) ([]snapshot.RecentPlay, error) {
	plays := []snapshot.RecentPlay{}

	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recentsBucket).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(plays) >= limit {
				break
			}

			var p snapshot.RecentPlay
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}

			plays = append(plays, p)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading recent plays: %w", err)
	}

	return plays, nil
}

// RecordPlay appends a play-history entry and trims the history to
// MaxRecentPlays, dropping the oldest entries.
func (l *Library) RecordPlay(p snapshot.RecentPlay) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recentsBucket)

		data, err := json.Marshal(p)
		if err != nil {
			return err
		}

		if err := b.Put(recentKey(p), data); err != nil {
			return err
		}

		return trimBucket(b, snapshot.MaxRecentPlays)
	})
}

// ApplyMergedRecentPlays replaces the play history with the merged result
// in a single transaction.
func (l *Library) ApplyMergedRecentPlays(plays []snapshot.RecentPlay) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recentsBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(recentsBucket)
		if err != nil {
			return err
		}

		for _, p := range plays {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}

			if err := b.Put(recentKey(p), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// oplogKey orders operation log entries newest-first, with the entry ID
// as a tiebreaker for same-millisecond actions.
func oplogKey(e snapshot.OperationLogEntry) []byte {
	key := make([]byte, 8, 8+len(e.ID))
	binary.BigEndian.PutUint64(key, uint64(math.MaxInt64-e.Timestamp))

	return append(key, e.ID...)
}

// CurrentOperations returns the operation log, newest first.
func (l *Library) CurrentOperations() ([]snapshot.OperationLogEntry, error) {
	entries := []snapshot.OperationLogEntry{}

	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(oplogBucket).ForEach(func(_, v []byte) error {
			var e snapshot.OperationLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			entries = append(entries, e)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading operation log: %w", err)
	}

	return entries, nil
}

// AppendOperation records a user action and trims the log to
// MaxOperationLog entries.
func (l *Library) AppendOperation(e snapshot.OperationLogEntry) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(oplogBucket)

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}

		if err := b.Put(oplogKey(e), data); err != nil {
			return err
		}

		return trimBucket(b, snapshot.MaxOperationLog)
	})
}

// trimBucket deletes entries beyond max under the bucket's key order.
// Keys sort newest-first, so the entries dropped are the oldest.
func trimBucket(b *bolt.Bucket, max int) error {
	c := b.Cursor()
	seen := 0

	var excess [][]byte

	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		seen++
		if seen > max {
			key := make([]byte, len(k))
			copy(key, k)
			excess = append(excess, key)
		}
	}

	for _, k := range excess {
		if err := b.Delete(k); err != nil {
			return err
		}
	}

	return nil
}
