//go:build !integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"photo-restyler/internal/infra/store"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := store.NewKeyedMutex()
	ctx := context.Background()

	unlock, err := km.Lock(ctx, "run-a")
	require.NoError(t, err)

	// other keys are independent
	other, err := km.Lock(ctx, "run-b")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(waitCtx, "run-a")
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock() // second call is a no-op

	again, err := km.Lock(ctx, "run-a")
	require.NoError(t, err)
	again()
}

func TestChainLocker_ReleasesOnFailure(t *testing.T) {
	first := store.NewKeyedMutex()
	second := store.NewKeyedMutex()
	ctx := context.Background()

	held, err := second.Lock(ctx, "k")
	require.NoError(t, err)

	chain := store.ChainLocker{first, second}
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = chain.Lock(waitCtx, "k")
	require.Error(t, err)

	// first must have been released by the failed chain
	u, err := first.Lock(ctx, "k")
	require.NoError(t, err)
	u()
	held()

	u, err = chain.Lock(ctx, "k")
	require.NoError(t, err)
	u()
}
