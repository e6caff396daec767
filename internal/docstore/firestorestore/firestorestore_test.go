package firestorestore

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/stretchr/testify/require"
)

func TestOperator(t *testing.T) {
	for _, op := range []docstore.Op{docstore.OpEqual, docstore.OpLess, docstore.OpGreaterEqual, docstore.OpArrayContains} {
		got, err := operator(op)
		require.NoError(t, err)
		require.Equal(t, string(op), got)
	}
	_, err := operator("like")
	require.True(t, docstore.IsInvalidArgument(err))
}

func TestUpdates_UseFieldPaths(t *testing.T) {
	ups, err := updates(docstore.Fields{"notifications.chat": false})
	require.NoError(t, err)
	require.Len(t, ups, 1)
	require.Equal(t, firestore.FieldPath{"notifications.chat"}, ups[0].FieldPath)
	require.Empty(t, ups[0].Path)

	_, err = updates(docstore.Fields{})
	require.Error(t, err)
}

func TestPrepare_Normalizes(t *testing.T) {
	data, err := prepare(docstore.Fields{"likes": []string{"a"}, "n": 3})
	require.NoError(t, err)
	require.Equal(t, []any{"a"}, data["likes"])
	require.Equal(t, int64(3), data["n"])

	_, err = prepare(docstore.Fields{"bad": make(chan int)})
	require.Error(t, err)
}

func TestSplitPath(t *testing.T) {
	require.Equal(t, []string{"a"}, splitPath("a"))
	require.Equal(t, []string{"notifications", "chat"}, splitPath("notifications.chat"))
}

// The tests below need the Firestore emulator:
//
//	gcloud emulators firestore start --host-port=127.0.0.1:8086
//	FIRESTORE_EMULATOR_HOST=127.0.0.1:8086 go test ./...
func emulatorStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	s, err := Open(context.Background(), "kehilla-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func uniqueCollection(t *testing.T) string {
	return "t" + docstore.NewID()
}

func TestEmulator_CreateIsExclusive(t *testing.T) {
	s := emulatorStore(t)
	ctx := context.Background()
	r := docstore.DocRef{Collection: uniqueCollection(t), ID: "2026-04-18"}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Create(ctx, r, docstore.Fields{"sponsorName": "S"}) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestEmulator_TransactionAndIncrement(t *testing.T) {
	s := emulatorStore(t)
	ctx := context.Background()
	r := docstore.DocRef{Collection: uniqueCollection(t), ID: "h1"}

	require.True(t, docstore.IsNotFound(s.Increment(ctx, r, "pledged", 1)))
	require.NoError(t, s.Set(ctx, r, docstore.Fields{"currentBid": 100, "pledged": 0}))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(r)
		if err != nil {
			return err
		}
		cur := snap.Fields["currentBid"].(int64)
		return tx.Update(r, docstore.Fields{"currentBid": cur + 50})
	})
	require.NoError(t, err)
	require.NoError(t, s.Increment(ctx, r, "pledged", 18))

	got, err := s.Get(ctx, r)
	require.NoError(t, err)
	require.Equal(t, int64(150), got.Fields["currentBid"])
	require.EqualValues(t, 18, got.Fields["pledged"])
}

func TestEmulator_Watch(t *testing.T) {
	s := emulatorStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coll := uniqueCollection(t)

	w, err := s.Watch(ctx, docstore.Query{Collection: coll})
	require.NoError(t, err)
	defer w.Stop()

	first, err := w.Next(ctx)
	require.NoError(t, err)
	require.Empty(t, first)

	require.NoError(t, s.Set(ctx, docstore.DocRef{Collection: coll, ID: "a"}, docstore.Fields{"v": 1}))
	next, err := w.Next(ctx)
	require.NoError(t, err)
	require.Len(t, next, 1)

	w.Stop()
	_, err = w.Next(ctx)
	require.ErrorIs(t, err, docstore.ErrWatcherStopped)
}
