// Package remote defines the adapter boundary to the shared remote store.
// The store is a dumb versioned blob: path-addressed fetch and conditional
// put, with an opaque version token for optimistic concurrency. No merge
// logic lives on the remote side.
package remote

import "context"

//go:generate mockgen -source=remote.go -destination=mock_store.go -package=remote

// Object is the content and version token of a fetched remote blob.
type Object struct {
	Content []byte
	Token   string
}

// Store is the remote blob store the sync engine talks to.
//
// Fetch returns errors.ErrRemoteNotFound when nothing exists at the path.
// Put with an empty prevToken means "create"; with a token it means
// "update iff still current" and returns errors.ErrTokenMismatch when the
// blob moved underneath us. Both return errors.ErrUnauthorized when the
// stored credential has expired; callers must invalidate the credential
// and stop retrying.
type Store interface {
	Fetch(ctx context.Context, path string) (*Object, error)
	Put(ctx context.Context, path string, content []byte, prevToken string) (string, error)
}
