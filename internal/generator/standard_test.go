package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func template() model.Generator {
	return model.Generator{
		Name:        "default",
		Charset:     "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
		Chunks:      4,
		ChunkLength: 5,
		Separator:   "-",
		Prefix:      "DLM-",
		Suffix:      "-X",
	}
}

func TestGenerateShape(t *testing.T) {
	g := template()
	keys, err := NewStandard(10).Generate(context.Background(), 50, g, nil)
	require.NoError(t, err)
	require.Len(t, keys, 50)

	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate %s", k)
		seen[k] = true

		require.True(t, strings.HasPrefix(k, "DLM-"))
		require.True(t, strings.HasSuffix(k, "-X"))
		body := strings.TrimSuffix(strings.TrimPrefix(k, "DLM-"), "-X")
		chunks := strings.Split(body, "-")
		require.Len(t, chunks, 4)
		for _, c := range chunks {
			assert.Len(t, c, 5)
			for _, r := range c {
				assert.Contains(t, g.Charset, string(r))
			}
		}
	}
}

func TestGenerateSkipsExistingKeys(t *testing.T) {
	g := template()
	g.Charset = "AB"
	g.Chunks = 1
	g.ChunkLength = 2 // 4 possible keys

	taken := map[string]bool{"AA": true, "BB": true}
	exists := func(_ context.Context, key string) (bool, error) {
		body := strings.TrimSuffix(strings.TrimPrefix(key, "DLM-"), "-X")
		return taken[body], nil
	}

	keys, err := NewStandard(200).Generate(context.Background(), 2, g, exists)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"DLM-AB-X", "DLM-BA-X"}, keys)
}

func TestGenerateExhaustsRetryBudget(t *testing.T) {
	g := template()
	always := func(context.Context, string) (bool, error) { return true, nil }

	_, err := NewStandard(3).Generate(context.Background(), 2, g, always)
	assert.ErrorIs(t, err, apperr.ErrGeneratorExhausted)
}

func TestGenerateRejectsAmountOverCapacity(t *testing.T) {
	g := template()
	g.Charset = "AAB" // two unique symbols
	g.Chunks = 1
	g.ChunkLength = 2

	_, err := NewStandard(10).Generate(context.Background(), 5, g, nil)
	assert.ErrorIs(t, err, apperr.ErrGeneratorExhausted)
}

func TestGeneratePropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewStandard(10).Generate(context.Background(), 1, template(),
		func(context.Context, string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestGenerateHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStandard(10).Generate(ctx, 1, template(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate(t *testing.T) {
	neg := -1
	cases := map[string]func(*model.Generator){
		"no name":        func(g *model.Generator) { g.Name = " " },
		"no charset":     func(g *model.Generator) { g.Charset = "" },
		"zero chunks":    func(g *model.Generator) { g.Chunks = 0 },
		"long chunk":     func(g *model.Generator) { g.ChunkLength = maxChunkLength + 1 },
		"negative limit": func(g *model.Generator) { g.ActivationsLimit = &neg },
		"negative exp":   func(g *model.Generator) { g.ExpiresIn = &neg },
		"long separator": func(g *model.Generator) { g.Separator = strings.Repeat("-", maxSeparatorLen+1) },
		"long prefix":    func(g *model.Generator) { g.Prefix = strings.Repeat("P", maxTextLen+1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			g := template()
			mutate(&g)
			assert.ErrorIs(t, Validate(g), apperr.ErrValidation)
		})
	}
	assert.NoError(t, Validate(template()))

	g := template()
	g.Separator = strings.Repeat("-", maxSeparatorLen)
	assert.NoError(t, Validate(g))
}

func TestCapacity(t *testing.T) {
	g := template()
	g.Charset = "0123456789"
	g.Chunks = 2
	g.ChunkLength = 2
	assert.Equal(t, int64(10000), Capacity(g).Int64())
}
