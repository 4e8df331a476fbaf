package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfig_Defaults(t *testing.T) {
	var c QdrantConfig
	c.ApplyDefaults()
	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, 6334, c.Port)
	assert.Equal(t, "codeqa", c.CollectionPrefix)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, time.Second, c.RetryBackoff)
	assert.NoError(t, c.Validate())

	c.Port = 70000
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
}

func TestQdrantCollectionName(t *testing.T) {
	assert.Equal(t, "codeqa_my_repo_v1_2", QdrantCollectionName("codeqa", "My-Repo.v1_2"))
	assert.Equal(t, "x_abc", QdrantCollectionName("x", "abc"))
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{status.Error(grpccodes.Unavailable, "down"), true},
		{status.Error(grpccodes.DeadlineExceeded, "slow"), true},
		{status.Error(grpccodes.NotFound, "missing"), false},
		{status.Error(grpccodes.Unauthenticated, "no"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransientError(tt.err), "%v", tt.err)
	}
}

func TestIndexConfig_Validate(t *testing.T) {
	assert.NoError(t, IndexConfig{}.Validate())
	assert.NoError(t, IndexConfig{Backend: BackendQdrant}.Validate())
	assert.ErrorIs(t, IndexConfig{Backend: "faiss"}.Validate(), ErrInvalidConfig)
}
