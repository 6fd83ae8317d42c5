package syncer

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/config"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/library"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
)

// CoverResolver rewrites a device-local cover reference into a
// network-resolvable one. It returns false when the reference cannot be
// resolved, in which case the reference is dropped from the snapshot
// rather than leaking a device-local path to other devices.
type CoverResolver func(ref string) (string, bool)

// BaseURLResolver maps local cover files onto a public base URL by file
// name. With an empty base every local reference is dropped.
func BaseURLResolver(base string) CoverResolver {
	base = strings.TrimRight(base, "/")

	return func(ref string) (string, bool) {
		if base == "" {
			return "", false
		}

		name := filepath.Base(strings.TrimPrefix(ref, "file://"))
		if name == "" || name == "." || name == "/" {
			return "", false
		}

		return base + "/" + url.PathEscape(name), true
	}
}

// Builder assembles a snapshot of current local state, tagged with this
// device's identity and a wall-clock modification time.
type Builder struct {
	repos      library.Repositories
	deviceID   string
	deviceName string
	rules      config.Rules
	resolver   CoverResolver
}

// NewBuilder creates a builder over the local repositories.
func NewBuilder(repos library.Repositories, deviceID, deviceName string, rules config.Rules, resolver CoverResolver) *Builder {
	return &Builder{
		repos:      repos,
		deviceID:   deviceID,
		deviceName: deviceName,
		rules:      rules,
		resolver:   resolver,
	}
}

// Build reads the local repositories and produces a fresh snapshot.
// Collections disabled by the sync rules stay empty. Cover references
// are normalized before anything enters the snapshot; the merge engine
// never sees a device-local path.
func (b *Builder) Build(now time.Time) (*snapshot.Snapshot, error) {
	snap := snapshot.New(b.deviceID, b.deviceName, now)

	if b.rules.Playlists {
		playlists, err := b.repos.CurrentPlaylists()
		if err != nil {
			return nil, fmt.Errorf("building snapshot: %w", err)
		}

		for i := range playlists {
			b.rewriteSongs(playlists[i].Songs)
		}

		snap.Playlists = playlists
	}

	if b.rules.Favorites {
		favorites, err := b.repos.CurrentFavorites()
		if err != nil {
			return nil, fmt.Errorf("building snapshot: %w", err)
		}

		for i := range favorites {
			favorites[i].CoverRef = b.rewriteCover(favorites[i].CoverRef)
			b.rewriteSongs(favorites[i].Songs)
		}

		snap.FavoritePlaylists = favorites
	}

	if b.rules.RecentPlays {
		plays, err := b.repos.CurrentRecentPlays(snapshot.MaxRecentPlays)
		if err != nil {
			return nil, fmt.Errorf("building snapshot: %w", err)
		}

		for i := range plays {
			plays[i].Song = b.rewriteSong(plays[i].Song)
		}

		snap.RecentPlays = plays
	}

	operations, err := b.repos.CurrentOperations()
	if err != nil {
		return nil, fmt.Errorf("building snapshot: %w", err)
	}

	snap.OperationLog = operations

	snap.Normalize()

	return snap, nil
}

func (b *Builder) rewriteSongs(songs []snapshot.Song) {
	for i := range songs {
		songs[i] = b.rewriteSong(songs[i])
	}
}

func (b *Builder) rewriteSong(s snapshot.Song) snapshot.Song {
	s.CoverRef = b.rewriteCover(s.CoverRef)
	s.CustomCover = b.rewriteCover(s.CustomCover)
	s.OriginalCover = b.rewriteCover(s.OriginalCover)

	return s
}

// rewriteCover passes network references through untouched, resolves
// local ones, and drops what cannot be resolved.
func (b *Builder) rewriteCover(ref string) string {
	if ref == "" || isNetworkRef(ref) {
		return ref
	}

	if b.resolver != nil {
		if rewritten, ok := b.resolver(ref); ok {
			return rewritten
		}
	}

	return ""
}

func isNetworkRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// remoteObjectName is the shared blob base name; the format-specific
// suffix is appended by the syncer.
const remoteObjectName = "library"

// remotePath joins the configured remote directory with the blob name
// for a format.
func remotePath(dir string, format snapshot.Format) string {
	return path.Join(dir, remoteObjectName+format.Suffix())
}
