package chunker

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used for token estimates when available.
const DefaultEncoding = "cl100k_base"

// Tokenizer names accepted by NewTokenCounter.
const (
	TokenizerChars    = "chars"
	TokenizerTiktoken = "tiktoken"
)

var (
	// ErrUnknownTokenizer is returned for a tokenizer name that is neither
	// chars nor tiktoken.
	ErrUnknownTokenizer = errors.New("unknown tokenizer")
	// ErrTokenizerUnavailable wraps a tiktoken load failure. The counter
	// returned alongside it is a usable CharCounter.
	ErrTokenizerUnavailable = errors.New("tokenizer unavailable")
)

// TokenCounter estimates how many model tokens a string costs.
type TokenCounter interface {
	Count(text string) int
}

// CharCounter approximates one token per four characters.
type CharCounter struct{}

// Count implements TokenCounter.
func (CharCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. Loading may need network
// access on first use; the BPE ranks are cached under TIKTOKEN_CACHE_DIR.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements TokenCounter.
func (t *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns the counter for tokenizer. An empty name means
// chars. When tiktoken cannot load its encoding the character proxy is
// returned together with an error wrapping ErrTokenizerUnavailable.
func NewTokenCounter(tokenizer string) (TokenCounter, error) {
	switch tokenizer {
	case "", TokenizerChars:
		return CharCounter{}, nil
	case TokenizerTiktoken:
		counter, err := NewTiktokenCounter(DefaultEncoding)
		if err != nil {
			return CharCounter{}, fmt.Errorf("%w: %w", ErrTokenizerUnavailable, err)
		}
		return counter, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTokenizer, tokenizer)
	}
}
