package providers_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/providers"
	"github.com/helixir/lumen-search/internal/providers/providertest"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	require.NotNil(t, registry)
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, registry.All())
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	t.Run("registers and retrieves a provider", func(t *testing.T) {
		t.Parallel()
		registry := providers.NewRegistry()
		oa := providertest.New(domain.ProviderOpenAlex)
		registry.Register(oa)

		got, ok := registry.Get(domain.ProviderOpenAlex)
		require.True(t, ok)
		assert.Same(t, oa, got)
	})

	t.Run("replaces a provider with the same id", func(t *testing.T) {
		t.Parallel()
		registry := providers.NewRegistry()
		registry.Register(providertest.New("x"))
		second := providertest.New("x")
		registry.Register(second)

		got, ok := registry.Get("x")
		require.True(t, ok)
		assert.Same(t, second, got)
		assert.Equal(t, 1, registry.Len())
	})

	t.Run("missing provider", func(t *testing.T) {
		t.Parallel()
		_, ok := providers.NewRegistry().Get("nope")
		assert.False(t, ok)
	})
}

func TestRegistry_AllSortedByID(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	for _, id := range []string{"semanticscholar", "arxiv", "openalex", "crossref"} {
		registry.Register(providertest.New(id))
	}

	assert.Equal(t, []string{"arxiv", "crossref", "openalex", "semanticscholar"}, registry.IDs())
}

func TestRegistry_WithCapability(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	registry.Register(providertest.New("a", domain.CapabilityTextSearch))
	registry.Register(providertest.New("b", domain.CapabilityStatistics))
	registry.Register(providertest.New("c", domain.CapabilityTextSearch, domain.CapabilityStatistics))

	var ids []string
	for _, p := range registry.WithCapability(domain.CapabilityStatistics) {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"b", "c"}, ids)
	assert.Len(t, registry.All(), 3, "filtering must not alias the snapshot")
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	registry.Register(providertest.New("openalex"))
	registry.Register(providertest.New("crossref"))
	registry.Register(providertest.New("arxiv"))

	tests := []struct {
		name    string
		ids     []string
		want    []string
		wantErr string
	}{
		{name: "empty means all", ids: nil, want: []string{"arxiv", "crossref", "openalex"}},
		{name: "keeps request order", ids: []string{"openalex", "arxiv"}, want: []string{"openalex", "arxiv"}},
		{name: "drops repeats", ids: []string{"crossref", "crossref"}, want: []string{"crossref"}},
		{name: "unknown provider", ids: []string{"openalex", "pubmed"}, wantErr: "pubmed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := registry.Resolve(tt.ids)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrUnknownProvider))
				var upe *domain.UnknownProviderError
				require.True(t, errors.As(err, &upe))
				assert.Equal(t, tt.wantErr, upe.Provider)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, p := range got {
				ids[i] = p.ID()
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			registry.Register(providertest.New(fmt.Sprintf("p%d", i)))
		}(i)
		go func() {
			defer wg.Done()
			_ = registry.All()
			_, _ = registry.Resolve(nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, registry.Len())
}
