package merger

import (
	"github.com/helixir/lumen-search/internal/domain"
)

// Field names a document field governed by a provider trust chain.
type Field string

const (
	FieldTitle           Field = "title"
	FieldAbstract        Field = "abstract"
	FieldTLDR            Field = "tldr"
	FieldPublicationYear Field = "publication_year"
	FieldConcepts        Field = "concepts"
)

// trustChains lists, per field, the providers in descending trust. Providers
// missing from a chain rank after every listed one.
var trustChains = map[Field][]string{
	FieldTitle:           {domain.ProviderCrossref, domain.ProviderOpenAlex, domain.ProviderSemanticScholar},
	FieldAbstract:        {domain.ProviderOpenAlex, domain.ProviderSemanticScholar, domain.ProviderCrossref},
	FieldTLDR:            {domain.ProviderSemanticScholar},
	FieldPublicationYear: {domain.ProviderCrossref},
	FieldConcepts:        {domain.ProviderOpenAlex, domain.ProviderSemanticScholar},
}

// Precedence returns a copy of the trust chain of a field, most trusted
// first. It returns nil for fields without a chain.
func Precedence(field Field) []string {
	chain, ok := trustChains[field]
	if !ok {
		return nil
	}
	return append([]string(nil), chain...)
}

// rank returns the position of provider in the field's chain; lower is more
// trusted.
func rank(field Field, provider string) int {
	chain := trustChains[field]
	for i, p := range chain {
		if p == provider {
			return i
		}
	}
	return len(chain)
}

// candidate is one input's offer for a ranked field.
type candidate[T any] struct {
	value  T
	source string
}

// pick returns the offer from the most trusted provider, judged by who
// supplied each value rather than by the record carrying it. Blank offers
// never win and equal ranks keep call order.
func pick[T any](field Field, blank func(T) bool, offers ...candidate[T]) (candidate[T], bool) {
	var best candidate[T]
	bestRank, found := 0, false
	for _, c := range offers {
		if blank(c.value) {
			continue
		}
		if r := rank(field, c.source); !found || r < bestRank {
			best, bestRank, found = c, r, true
		}
	}
	return best, found
}

// onlyTrusted drops offers from providers outside the field's chain.
func onlyTrusted[T any](field Field, offers ...candidate[T]) []candidate[T] {
	out := offers[:0:0]
	for _, c := range offers {
		if rank(field, c.source) < len(trustChains[field]) {
			out = append(out, c)
		}
	}
	return out
}
