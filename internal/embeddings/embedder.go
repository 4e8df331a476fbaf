package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput indicates an empty text or batch where one is required.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidConfig indicates invalid embedding configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates a backend failed to produce vectors.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrRemoteUnavailable indicates the remote backend cannot be used.
	ErrRemoteUnavailable = errors.New("remote embedding backend unavailable")

	// ErrLocalUnavailable indicates the local model cannot be loaded.
	ErrLocalUnavailable = errors.New("local embedding model unavailable")

	// ErrQuotaExceeded marks a backend failure caused by exhausted quota.
	ErrQuotaExceeded = errors.New("embedding quota exceeded")

	// ErrUnauthorized marks a backend failure caused by a rejected credential.
	ErrUnauthorized = errors.New("embedding credential rejected")
)

// Mode names an embedding backend.
type Mode string

const (
	ModeAuto          Mode = "auto"
	ModeRemote        Mode = "remote"
	ModeLocal         Mode = "local"
	ModeDeterministic Mode = "deterministic"
)

// Fixed output dimensions per backend.
const (
	RemoteDimension        = 1536
	LocalDimension         = 384
	DeterministicDimension = 384
)

// ParseMode validates a mode string. The empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeRemote, ModeLocal, ModeDeterministic:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (want auto, remote, local or deterministic)", ErrInvalidConfig, s)
	}
}

// Embedder converts text into vectors of a fixed dimension.
type Embedder interface {
	// EmbedDocuments embeds a batch, one vector per input in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the length of every vector this embedder produces.
	Dimension() int
}

// Backend is an Embedder that can be selected by Service.
type Backend interface {
	Embedder
	Mode() Mode
	Close() error
}

var quotaMarkers = []string{
	"insufficient_quota",
	"quota",
	"invalid_api_key",
	"incorrect api key",
	"status code: 401",
	"status code: 403",
	"unauthorized",
}

// IsQuotaOrAuthError reports whether err means further remote calls are
// pointless for the lifetime of the process.
func IsQuotaOrAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// awaitCall runs fn on its own goroutine and returns when it finishes or ctx
// is done, whichever is first. An abandoned fn keeps running to completion.
func awaitCall[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{v, err}
	}()
	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
