package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "pipeline:1")
	require.NoError(t, err)

	other, err := l.Lock(ctx, "pipeline:2")
	require.NoError(t, err, "keys are independent")
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "pipeline:1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	unlock()
	unlock()

	again, err := l.Lock(ctx, "pipeline:1")
	require.NoError(t, err)
	again()
}
