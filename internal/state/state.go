// Package state persists the sync engine's bookkeeping in a bbolt
// database: the remote account credential, the per-path version token and
// last-sync timestamp, the stable device identity, and the pending
// tombstone list for locally-deleted playlists.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	accountBucket = []byte("account")
	syncBucket    = []byte("sync")

	credentialKey = []byte("credential")
	deviceIDKey   = []byte("device_id")
	tombstonesKey = []byte("tombstones")
)

func metaKey(path string) []byte {
	return []byte("meta:" + path)
}

// Account holds the remote store credential and location. An absent
// account means sync is not configured and every sync attempt is a no-op.
type Account struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// SyncMeta is the per-remote-path sync cursor: the version token observed
// on the last successful sync and when that sync finished.
type SyncMeta struct {
	Token    string `json:"token"`
	LastSync int64  `json:"last_sync"`
}

// State wraps a bbolt database for all persistent sync bookkeeping.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Tests use this with a temp directory.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(accountBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(syncBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Account returns the stored remote credential, or nil when none is set.
func (s *State) Account() (*Account, error) {
	var acct *Account

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(accountBucket).Get(credentialKey)
		if v == nil {
			return nil
		}

		acct = &Account{}

		return json.Unmarshal(v, acct)
	})

	return acct, err
}

// SetAccount persists the remote credential.
func (s *State) SetAccount(acct Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(acct)
		if err != nil {
			return err
		}

		return tx.Bucket(accountBucket).Put(credentialKey, data)
	})
}

// InvalidateAccount removes the stored credential. Called when the remote
// store reports the credential expired, so later sync attempts become
// no-ops instead of hammering a permanently-broken credential.
func (s *State) InvalidateAccount() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountBucket).Delete(credentialKey)
	})
}

// DeviceID returns the stable per-installation device identity, creating
// and persisting one on first call.
func (s *State) DeviceID() (string, error) {
	var id string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountBucket)

		if v := b.Get(deviceIDKey); v != nil {
			id = string(v)
			return nil
		}

		id = uuid.NewString()

		return b.Put(deviceIDKey, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("loading device id: %w", err)
	}

	return id, nil
}

// SyncMeta returns the sync cursor for a remote path, or nil when no sync
// has completed against that path (the first-sync condition).
func (s *State) SyncMeta(path string) (*SyncMeta, error) {
	var meta *SyncMeta

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(syncBucket).Get(metaKey(path))
		if v == nil {
			return nil
		}

		meta = &SyncMeta{}

		return json.Unmarshal(v, meta)
	})

	return meta, err
}

// SetSyncMeta persists the sync cursor for a remote path.
func (s *State) SetSyncMeta(path string, meta SyncMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		return tx.Bucket(syncBucket).Put(metaKey(path), data)
	})
}

// PendingTombstones returns the playlist IDs deleted locally that have
// not yet round-tripped through the remote.
func (s *State) PendingTombstones() ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(syncBucket).Get(tombstonesKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &ids)
	})

	return ids, err
}

// AddPendingTombstone records a locally-deleted playlist ID. Idempotent.
func (s *State) AddPendingTombstone(playlistID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncBucket)

		var ids []string
		if v := b.Get(tombstonesKey); v != nil {
			if err := json.Unmarshal(v, &ids); err != nil {
				return err
			}
		}

		for _, id := range ids {
			if id == playlistID {
				return nil
			}
		}

		ids = append(ids, playlistID)

		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}

		return b.Put(tombstonesKey, data)
	})
}

// ClearPendingTombstones removes the pending tombstone list after the
// deletions have been uploaded.
func (s *State) ClearPendingTombstones() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(syncBucket).Delete(tombstonesKey)
	})
}
