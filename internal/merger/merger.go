// Package merger fuses two records of the same work using a fixed per-field
// provider trust table.
package merger

import (
	"encoding/json"
	"strings"

	"github.com/helixir/lumen-search/internal/domain"
)

// Merge fuses a and b into a new document. a is the existing record: the
// result keeps its LumenID and SourceProvider. Ranked fields are decided by
// provider trust, never by argument position. Neither input is modified.
func Merge(a, b *domain.ScholarlyDocument) *domain.ScholarlyDocument {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}

	out := &domain.ScholarlyDocument{
		LumenID:        a.LumenID,
		SourceProvider: a.SourceProvider,
	}

	out.DOI = firstNonBlank(a.DOI, b.DOI)
	out.ArXivID = firstNonBlank(a.ArXivID, b.ArXivID)

	fields := fieldSet{out: out}

	if c, ok := pick(FieldTitle, blankString,
		offer(FieldTitle, a, a.Title), offer(FieldTitle, b, b.Title)); ok {
		out.Title = c.value
		fields.record(FieldTitle, c.source)
	}

	if c, ok := pick(FieldAbstract, blankString,
		offer(FieldAbstract, a, a.Abstract), offer(FieldAbstract, b, b.Abstract)); ok {
		out.Abstract = c.value
		fields.record(FieldAbstract, c.source)
	}

	// a tldr from outside the chain is dropped, never used as a fallback
	if c, ok := pick(FieldTLDR, blankString, onlyTrusted(FieldTLDR,
		offer(FieldTLDR, a, a.TLDR), offer(FieldTLDR, b, b.TLDR))...); ok {
		out.TLDR = c.value
		fields.record(FieldTLDR, c.source)
	}

	if c, ok := pick(FieldPublicationYear, func(y int) bool { return y == 0 },
		offer(FieldPublicationYear, a, a.PublicationYear), offer(FieldPublicationYear, b, b.PublicationYear)); ok {
		out.PublicationYear = c.value
		fields.record(FieldPublicationYear, c.source)
	}

	if c, ok := pick(FieldConcepts, func(cs []domain.Concept) bool { return len(cs) == 0 },
		offer(FieldConcepts, a, a.Concepts), offer(FieldConcepts, b, b.Concepts)); ok {
		out.Concepts = append([]domain.Concept(nil), c.value...)
		fields.record(FieldConcepts, c.source)
	}

	out.Venue = firstNonBlank(a.Venue, b.Venue)
	out.PDFURL = firstNonBlank(a.PDFURL, b.PDFURL)
	out.CitationCount = max(a.CitationCount, b.CitationCount)
	out.RetrievalConfidence = max(a.RetrievalConfidence, b.RetrievalConfidence)
	out.IsFullyHydrated = a.IsFullyHydrated || b.IsFullyHydrated

	out.References = union(a.References, b.References)
	out.Citations = union(a.Citations, b.Citations)
	out.Authors = mergeAuthors(a.Authors, b.Authors)
	out.RawSourceData = mergeRaw(a.RawSourceData, b.RawSourceData)
	out.MergedFromIDs = mergedIDs(a, b)

	return out
}

// offer pairs doc's value of field with the provider that supplied it.
func offer[T any](field Field, doc *domain.ScholarlyDocument, value T) candidate[T] {
	return candidate[T]{value: value, source: doc.FieldSource(string(field))}
}

// fieldSet records ranked-field provenance on a merged document. Fields
// supplied by the document's own SourceProvider are left implicit.
type fieldSet struct {
	out *domain.ScholarlyDocument
}

func (f fieldSet) record(field Field, source string) {
	if source == "" || source == f.out.SourceProvider {
		return
	}
	if f.out.FieldSources == nil {
		f.out.FieldSources = make(map[string]string)
	}
	f.out.FieldSources[string(field)] = source
}

func blankString(s string) bool {
	return strings.TrimSpace(s) == ""
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// union returns the ordered set union of a and b.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// mergedIDs is the union of both audit trails plus b's own id, never
// containing a's id.
func mergedIDs(a, b *domain.ScholarlyDocument) []string {
	ids := union(union(a.MergedFromIDs, b.MergedFromIDs), []string{b.LumenID})
	out := ids[:0]
	for _, id := range ids {
		if id != a.LumenID && id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeRaw(a, b map[string]json.RawMessage) map[string]json.RawMessage {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(a)+len(b))
	for k, v := range b {
		out[k] = append(json.RawMessage(nil), v...)
	}
	for k, v := range a {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func authorKey(a domain.Author) string {
	return strings.ToLower(strings.TrimSpace(a.Name))
}

// mergeAuthors unions author lists by case-insensitive name. On a name clash
// the richer record is kept and its missing ORCID or affiliation is filled
// from the other.
func mergeAuthors(a, b []domain.Author) []domain.Author {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]domain.Author, 0, len(a)+len(b))
	index := make(map[string]int, len(a)+len(b))

	for _, list := range [][]domain.Author{a, b} {
		for _, author := range list {
			key := authorKey(author)
			if key == "" {
				out = append(out, author)
				continue
			}
			i, ok := index[key]
			if !ok {
				index[key] = len(out)
				out = append(out, author)
				continue
			}
			out[i] = combineAuthors(out[i], author)
		}
	}
	return out
}

func combineAuthors(existing, incoming domain.Author) domain.Author {
	kept, other := existing, incoming
	if incoming.Richness() > existing.Richness() {
		kept, other = incoming, existing
	}
	if kept.ORCID == "" {
		kept.ORCID = other.ORCID
	}
	if kept.Affiliation == "" {
		kept.Affiliation = other.Affiliation
	}
	return kept
}
