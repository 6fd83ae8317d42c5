// Package syncer implements the synchronization engine: snapshot
// building, two-way merge, change detection and the single-flight
// orchestrator that ties them to the remote store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/config"
	apperrors "github.com/okamitimo233/NeriPlayer-sub001/internal/errors"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/library"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/remote"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/state"
)

// Status classifies the outcome of one sync attempt.
type Status int

const (
	// StatusFailed covers transport, storage and codec failures.
	StatusFailed Status = iota

	// StatusNotConfigured means no remote account is set; nothing was done.
	StatusNotConfigured

	// StatusSkipped means another sync was already in flight.
	StatusSkipped

	// StatusFirstWrite means nothing existed remotely and the local
	// snapshot seeded the remote.
	StatusFirstWrite

	// StatusNoChanges means the merge produced nothing worth uploading.
	StatusNoChanges

	// StatusUploaded means the merged snapshot was written to the remote.
	StatusUploaded

	// StatusAuthRequired means the credential expired and was invalidated;
	// the user must sign in again.
	StatusAuthRequired
)

func (s Status) String() string {
	switch s {
	case StatusNotConfigured:
		return "not_configured"
	case StatusSkipped:
		return "skipped"
	case StatusFirstWrite:
		return "first_write"
	case StatusNoChanges:
		return "no_changes"
	case StatusUploaded:
		return "uploaded"
	case StatusAuthRequired:
		return "auth_required"
	default:
		return "failed"
	}
}

// Result is the outcome of one sync attempt. Report is non-nil only when
// a merge actually ran.
type Result struct {
	Status Status
	Report *Report
}

// Params collects the syncer's dependencies.
type Params struct {
	Repos       library.Repositories
	State       *state.State
	Store       remote.Store
	Builder     *Builder
	Rules       config.Rules
	RemoteDir   string
	WriteFormat snapshot.Format
	Logger      *slog.Logger
}

// Syncer orchestrates sync attempts. At most one runs at a time; a
// trigger arriving while one is in flight is dropped, not queued, since
// the running attempt already covers the state the trigger saw.
type Syncer struct {
	repos       library.Repositories
	state       *state.State
	store       remote.Store
	builder     *Builder
	rules       config.Rules
	remoteDir   string
	writeFormat snapshot.Format
	logger      *slog.Logger

	mu sync.Mutex
}

// New creates a syncer from its dependencies.
func New(p Params) *Syncer {
	return &Syncer{
		repos:       p.Repos,
		state:       p.State,
		store:       p.Store,
		builder:     p.Builder,
		rules:       p.Rules,
		remoteDir:   p.RemoteDir,
		writeFormat: p.WriteFormat,
		logger:      p.Logger,
	}
}

// Sync performs one full sync attempt. Concurrent callers beyond the
// first get StatusSkipped immediately.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return &Result{Status: StatusSkipped}, nil
	}
	defer s.mu.Unlock()

	return s.run(ctx, true)
}

// run executes one attempt. allowStaleRetry permits exactly one
// re-fetch-and-re-merge when the conditional upload loses a race; the
// retry itself runs with the flag off so two racing devices cannot loop.
func (s *Syncer) run(ctx context.Context, allowStaleRetry bool) (*Result, error) {
	if s.store == nil {
		return &Result{Status: StatusNotConfigured}, nil
	}

	acct, err := s.state.Account()
	if err != nil {
		return &Result{Status: StatusFailed}, fmt.Errorf("loading account: %w", err)
	}

	if acct == nil {
		return &Result{Status: StatusNotConfigured}, nil
	}

	local, err := s.builder.Build(time.Now())
	if err != nil {
		return &Result{Status: StatusFailed}, err
	}

	primary := remotePath(s.remoteDir, s.writeFormat)
	alternate := remotePath(s.remoteDir, otherFormat(s.writeFormat))

	obj, fetchedPath, err := s.fetchEither(ctx, primary, alternate)

	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return s.authRequired(err)

	case errors.Is(err, apperrors.ErrRemoteNotFound):
		return s.firstWrite(ctx, local, primary, allowStaleRetry)

	case err != nil:
		return &Result{Status: StatusFailed}, fmt.Errorf("fetching remote snapshot: %w", err)
	}

	// A payload that cannot be decoded aborts the attempt with local state
	// untouched. Overwriting a blob we could not read would destroy data
	// some other device can still understand.
	remoteSnap, err := snapshot.Decode(obj.Content, snapshot.FormatForPath(fetchedPath))
	if err != nil {
		return &Result{Status: StatusFailed}, fmt.Errorf("decoding remote snapshot: %w", err)
	}

	meta, err := s.state.SyncMeta(fetchedPath)
	if err != nil {
		return &Result{Status: StatusFailed}, fmt.Errorf("loading sync cursor: %w", err)
	}

	firstSync := meta == nil || meta.Token == ""
	remoteChanged := meta != nil && meta.Token != obj.Token

	merged, report, err := mergeSafely(local, remoteSnap, firstSync)
	if err != nil {
		return &Result{Status: StatusFailed}, err
	}

	if err := s.applyMerged(local, merged, firstSync || remoteChanged); err != nil {
		return &Result{Status: StatusFailed}, err
	}

	if !Changed(merged, remoteSnap) && !remoteChanged {
		if err := s.recordCursor(fetchedPath, obj.Token); err != nil {
			return &Result{Status: StatusFailed}, err
		}

		s.logger.Debug("sync found no changes", "path", fetchedPath)

		return &Result{Status: StatusNoChanges, Report: report}, nil
	}

	payload, err := snapshot.Encode(merged, s.writeFormat)
	if err != nil {
		return &Result{Status: StatusFailed}, fmt.Errorf("encoding merged snapshot: %w", err)
	}

	// The conditional write guards the path we fetched from. Writing under
	// the other suffix is a create as far as concurrency is concerned.
	prevToken := ""
	if fetchedPath == primary {
		prevToken = obj.Token
	}

	token, err := s.store.Put(ctx, primary, payload, prevToken)

	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return s.authRequired(err)

	case errors.Is(err, apperrors.ErrTokenMismatch):
		if allowStaleRetry {
			s.logger.Info("remote snapshot moved during sync, retrying once", "path", primary)
			return s.run(ctx, false)
		}

		return &Result{Status: StatusFailed}, fmt.Errorf("uploading merged snapshot: %w", err)

	case err != nil:
		return &Result{Status: StatusFailed}, fmt.Errorf("uploading merged snapshot: %w", err)
	}

	if err := s.finishUpload(primary, token); err != nil {
		return &Result{Status: StatusFailed}, err
	}

	s.logger.Info("sync uploaded merged snapshot",
		"path", primary,
		"playlists_added", report.PlaylistsAdded,
		"playlists_updated", report.PlaylistsUpdated,
		"playlists_deleted", report.PlaylistsDeleted,
		"conflicts", len(report.Conflicts),
	)

	return &Result{Status: StatusUploaded, Report: report}, nil
}

// fetchEither tries the write-format path first, then the other format's
// path, so a device that switched formats still finds the existing blob.
func (s *Syncer) fetchEither(ctx context.Context, primary, alternate string) (*remote.Object, string, error) {
	obj, err := s.store.Fetch(ctx, primary)
	if err == nil {
		return obj, primary, nil
	}

	if !errors.Is(err, apperrors.ErrRemoteNotFound) {
		return nil, "", err
	}

	obj, err = s.store.Fetch(ctx, alternate)
	if err != nil {
		return nil, "", err
	}

	return obj, alternate, nil
}

// firstWrite seeds an empty remote with the local snapshot. The create
// is conditional on the path still being absent; losing that race means
// another device wrote first, so the attempt restarts as a normal merge.
func (s *Syncer) firstWrite(ctx context.Context, local *snapshot.Snapshot, primary string, allowStaleRetry bool) (*Result, error) {
	payload, err := snapshot.Encode(local, s.writeFormat)
	if err != nil {
		return &Result{Status: StatusFailed}, fmt.Errorf("encoding snapshot: %w", err)
	}

	token, err := s.store.Put(ctx, primary, payload, "")

	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return s.authRequired(err)

	case errors.Is(err, apperrors.ErrTokenMismatch):
		if allowStaleRetry {
			s.logger.Info("remote snapshot appeared during first write, retrying once", "path", primary)
			return s.run(ctx, false)
		}

		return &Result{Status: StatusFailed}, fmt.Errorf("seeding remote snapshot: %w", err)

	case err != nil:
		return &Result{Status: StatusFailed}, fmt.Errorf("seeding remote snapshot: %w", err)
	}

	if err := s.finishUpload(primary, token); err != nil {
		return &Result{Status: StatusFailed}, err
	}

	s.logger.Info("sync seeded empty remote", "path", primary,
		"playlists", len(local.Playlists))

	return &Result{Status: StatusFirstWrite}, nil
}

// applyMerged writes the merge result back into the local repositories.
// Playlists deleted locally but not yet uploaded keep their tombstones so
// a failed upload cannot lose the deletion. Recent plays are only
// rewritten when the remote contributed something; otherwise the local
// history, which may extend past the sync cap, stays untouched.
//
// Each sub-step skips when the merge left that collection exactly as the
// local snapshot had it: rewriting identical content would re-fire the
// filesystem trigger on every attempt. The comparison is full deep
// equality, not the upload-worthiness check, so every difference the
// merge produced reaches local storage.
func (s *Syncer) applyMerged(local, merged *snapshot.Snapshot, remoteContributed bool) error {
	if s.rules.Playlists && !reflect.DeepEqual(merged.Playlists, local.Playlists) {
		apply := append([]snapshot.Playlist{}, merged.Playlists...)

		inMerged := make(map[string]struct{}, len(merged.Playlists))
		for _, p := range merged.Playlists {
			inMerged[p.ID] = struct{}{}
		}

		current, err := s.repos.CurrentPlaylists()
		if err != nil {
			return fmt.Errorf("loading playlists: %w", err)
		}

		for _, p := range current {
			if _, ok := inMerged[p.ID]; ok || !p.IsDeleted {
				continue
			}

			apply = append(apply, p)

			if err := s.state.AddPendingTombstone(p.ID); err != nil {
				return fmt.Errorf("recording pending tombstone: %w", err)
			}
		}

		if err := s.repos.ApplyMergedPlaylists(apply); err != nil {
			return fmt.Errorf("applying merged playlists: %w", err)
		}
	}

	if s.rules.Favorites && !reflect.DeepEqual(merged.FavoritePlaylists, local.FavoritePlaylists) {
		if err := s.repos.ApplyMergedFavorites(merged.FavoritePlaylists); err != nil {
			return fmt.Errorf("applying merged favorites: %w", err)
		}
	}

	if s.rules.RecentPlays && remoteContributed &&
		!reflect.DeepEqual(merged.RecentPlays, local.RecentPlays) {
		if err := s.repos.ApplyMergedRecentPlays(merged.RecentPlays); err != nil {
			return fmt.Errorf("applying merged recent plays: %w", err)
		}
	}

	return nil
}

// finishUpload records the new cursor and, with the deletions now safely
// remote, purges the tombstoned playlist rows.
func (s *Syncer) finishUpload(path, token string) error {
	if err := s.recordCursor(path, token); err != nil {
		return err
	}

	pending, err := s.state.PendingTombstones()
	if err != nil {
		return fmt.Errorf("loading pending tombstones: %w", err)
	}

	if len(pending) > 0 {
		if err := s.repos.PurgePlaylists(pending); err != nil {
			return fmt.Errorf("purging uploaded tombstones: %w", err)
		}
	}

	if err := s.state.ClearPendingTombstones(); err != nil {
		return fmt.Errorf("clearing pending tombstones: %w", err)
	}

	return nil
}

func (s *Syncer) recordCursor(path, token string) error {
	meta := state.SyncMeta{Token: token, LastSync: time.Now().UnixMilli()}

	if err := s.state.SetSyncMeta(path, meta); err != nil {
		return fmt.Errorf("recording sync cursor: %w", err)
	}

	return nil
}

func (s *Syncer) authRequired(cause error) (*Result, error) {
	s.logger.Warn("remote credential expired, sign-in required")

	if err := s.state.InvalidateAccount(); err != nil {
		return &Result{Status: StatusFailed}, fmt.Errorf("invalidating account: %w", err)
	}

	return &Result{Status: StatusAuthRequired},
		fmt.Errorf("%w: %v", apperrors.ErrCredentialExpired, cause)
}

// mergeSafely wraps Merge with a panic guard. A malformed remote document
// must surface as a failed sync, never crash the daemon.
func mergeSafely(local, remoteSnap *snapshot.Snapshot, firstSync bool) (merged *snapshot.Snapshot, report *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			merged, report = nil, nil
			err = fmt.Errorf("merge panicked: %v", r)
		}
	}()

	merged, report = Merge(local, remoteSnap, firstSync)

	return merged, report, nil
}

func otherFormat(f snapshot.Format) snapshot.Format {
	if f == snapshot.FormatBinary {
		return snapshot.FormatJSON
	}

	return snapshot.FormatBinary
}
