package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/remote"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
)

func TestTrigger_SyncsOnStartup(t *testing.T) {
	store := remote.NewMemStore()
	env := newTestEnv(t, store)
	seedPlaylist(t, env.lib, "p1", "Startup", "s1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := NewTrigger(env.syncer, env.lib.Path(), time.Hour, env.syncer.logger)

	done := make(chan error, 1)
	go func() { done <- trigger.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.Token(testRemoteDir+"/library.json") != ""
	}, 5*time.Second, 10*time.Millisecond, "startup sync never reached the store")

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not stop on cancel")
	}
}

func TestTrigger_PeriodicSync(t *testing.T) {
	store := remote.NewMemStore()
	env := newTestEnv(t, store)
	seedPlaylist(t, env.lib, "p1", "Periodic", "s1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := NewTrigger(env.syncer, env.lib.Path(), 20*time.Millisecond, env.syncer.logger)

	done := make(chan error, 1)
	go func() { done <- trigger.Run(ctx) }()

	path := testRemoteDir + "/library.json"

	require.Eventually(t, func() bool {
		return store.Token(path) != ""
	}, 5*time.Second, 10*time.Millisecond)

	// A later tick picks up a new local edit without any filesystem event
	// reaching the watcher.
	seedPlaylist(t, env.lib, "p2", "Added Later", "s2")

	require.Eventually(t, func() bool {
		obj, err := store.Fetch(context.Background(), path)
		if err != nil {
			return false
		}
		snap, err := snapshot.Decode(obj.Content, snapshot.FormatJSON)
		return err == nil && len(snap.Playlists) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
