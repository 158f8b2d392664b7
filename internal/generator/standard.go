package generator

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/model"
)

const (
	maxChunks      = 64
	maxChunkLength = 128

	// column widths of the generators table
	maxTextLen      = 255
	maxSeparatorLen = 16
)

// ExistsFunc reports whether a key is already taken. nil means every key is
// accepted as long as it is unique within the batch.
type ExistsFunc func(ctx context.Context, key string) (bool, error)

// StandardGenerator builds keys from a generator template:
// prefix + chunk (separator chunk)* + suffix.
type StandardGenerator struct {
	MaxRetriesPerKey int
	Rand             io.Reader
}

func NewStandard(maxRetriesPerKey int) *StandardGenerator {
	if maxRetriesPerKey <= 0 {
		maxRetriesPerKey = 10
	}
	return &StandardGenerator{MaxRetriesPerKey: maxRetriesPerKey, Rand: rand.Reader}
}

// Validate checks that a template can produce keys.
func Validate(g model.Generator) error {
	if strings.TrimSpace(g.Name) == "" {
		return apperr.Invalid("generator name is required")
	}
	if utf8.RuneCountInString(g.Charset) == 0 {
		return apperr.Invalid("generator charset is required")
	}
	for field, v := range map[string]string{"name": g.Name, "charset": g.Charset, "prefix": g.Prefix, "suffix": g.Suffix} {
		if utf8.RuneCountInString(v) > maxTextLen {
			return apperr.Invalid("%s must be at most %d characters", field, maxTextLen)
		}
	}
	if utf8.RuneCountInString(g.Separator) > maxSeparatorLen {
		return apperr.Invalid("separator must be at most %d characters", maxSeparatorLen)
	}
	if g.Chunks < 1 || g.Chunks > maxChunks {
		return apperr.Invalid("chunks must be between 1 and %d", maxChunks)
	}
	if g.ChunkLength < 1 || g.ChunkLength > maxChunkLength {
		return apperr.Invalid("chunk_length must be between 1 and %d", maxChunkLength)
	}
	if g.ExpiresIn != nil && *g.ExpiresIn < 0 {
		return apperr.Invalid("expires_in must not be negative")
	}
	if g.ActivationsLimit != nil && *g.ActivationsLimit < 0 {
		return apperr.Invalid("activations_limit must not be negative")
	}
	return nil
}

// Capacity returns how many distinct keys the template can produce.
func Capacity(g model.Generator) *big.Int {
	alphabet := big.NewInt(int64(len(uniqueRunes(g.Charset))))
	return new(big.Int).Exp(alphabet, big.NewInt(int64(g.Chunks*g.ChunkLength)), nil)
}

// Generate returns amount distinct keys. Keys colliding within the batch or
// reported by exists are retried; the total attempt count is bounded by
// amount*MaxRetriesPerKey.
func (s *StandardGenerator) Generate(ctx context.Context, amount int, g model.Generator, exists ExistsFunc) ([]string, error) {
	if amount < 1 {
		return nil, apperr.Invalid("amount must be at least 1")
	}
	if err := Validate(g); err != nil {
		return nil, err
	}
	if Capacity(g).Cmp(big.NewInt(int64(amount))) < 0 {
		return nil, apperr.New(apperr.CodeGeneratorExhausted, apperr.ErrGeneratorExhausted.Status,
			"generator %q cannot produce %d distinct keys", g.Name, amount)
	}

	charset := uniqueRunes(g.Charset)
	seen := make(map[string]struct{}, amount)
	keys := make([]string, 0, amount)
	budget := amount * s.MaxRetriesPerKey

	for attempts := 0; len(keys) < amount; attempts++ {
		if attempts >= budget {
			return nil, apperr.New(apperr.CodeGeneratorExhausted, apperr.ErrGeneratorExhausted.Status,
				"generated %d of %d keys after %d attempts", len(keys), amount, attempts)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key, err := s.build(charset, g)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if exists != nil {
			taken, err := exists(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("check key: %w", err)
			}
			if taken {
				continue
			}
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return keys, nil
}

func (s *StandardGenerator) build(charset []rune, g model.Generator) (string, error) {
	var sb strings.Builder
	sb.WriteString(g.Prefix)

	n := big.NewInt(int64(len(charset)))
	for c := 0; c < g.Chunks; c++ {
		if c > 0 {
			sb.WriteString(g.Separator)
		}
		for i := 0; i < g.ChunkLength; i++ {
			idx, err := rand.Int(s.Rand, n)
			if err != nil {
				return "", fmt.Errorf("random index: %w", err)
			}
			sb.WriteRune(charset[idx.Int64()])
		}
	}

	sb.WriteString(g.Suffix)
	return sb.String(), nil
}

// uniqueRunes drops repeated characters so each symbol is equally likely.
func uniqueRunes(s string) []rune {
	seen := make(map[rune]struct{}, len(s))
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
