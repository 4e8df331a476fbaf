package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitCall_ReturnsResult(t *testing.T) {
	v, err := awaitCall(context.Background(), func() ([]float32, error) {
		return []float32{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)

	boom := errors.New("boom")
	_, err = awaitCall(context.Background(), func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestAwaitCall_CancelDoesNotWaitForCall(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		<-finished
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	v, err := awaitCall(ctx, func() ([]float32, error) {
		defer close(finished)
		<-release
		return []float32{1}, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, v)
	assert.Less(t, time.Since(start), 2*time.Second)
}
