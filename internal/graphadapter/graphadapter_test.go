package graphadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAdapter() *Adapter {
	return &Adapter{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), maxRetries: 3}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	a := testAdapter()
	attempts := 0
	err := a.withRetry(context.Background(), "op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("unexpected EOF")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	a := testAdapter()
	attempts := 0
	err := a.withRetry(context.Background(), "op", func() error {
		attempts++
		return errPermanent{errors.New("not found")}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	a := testAdapter()
	a.maxRetries = 2
	attempts := 0
	err := a.withRetry(context.Background(), "op", func() error {
		attempts++
		return errors.New("connection reset by peer")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts) // initial + 2 retries
}

func TestResolveChainReturnsUnresolvedForEmptyLexemes(t *testing.T) {
	a := testAdapter()
	res, err := a.ResolveUIOriginChain(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, res.Resolved)

	seeds, err := a.PolicySeeds(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, seeds)
}
