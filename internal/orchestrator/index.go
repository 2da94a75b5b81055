package orchestrator

import (
	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/merger"
)

// entry is one fused document of the identity index.
type entry struct {
	key string
	doc *domain.ScholarlyDocument
}

// identityIndex maps identity keys to the current best fused document. It is
// owned by the merging goroutine and is not safe for concurrent use.
type identityIndex struct {
	byKey   map[string]*entry
	entries []*entry
}

func newIdentityIndex() *identityIndex {
	return &identityIndex{byKey: make(map[string]*entry)}
}

// identityKey returns "doi:<lowercased doi>" when the document has a DOI and
// "<provider>:<lumenId>" otherwise.
func identityKey(doc *domain.ScholarlyDocument) string {
	if doi := doc.NormalizedDOI(); doi != "" {
		return "doi:" + doi
	}
	return fallbackKey(doc)
}

func fallbackKey(doc *domain.ScholarlyDocument) string {
	return doc.SourceProvider + ":" + doc.LumenID
}

// upsert inserts doc or fuses it into the entry it matches. It returns the
// resulting document and whether the key was new.
func (ix *identityIndex) upsert(doc *domain.ScholarlyDocument) (*domain.ScholarlyDocument, bool) {
	key := identityKey(doc)
	e, ok := ix.byKey[key]
	if !ok {
		// a provider may re-emit a record that has since gained a DOI
		e, ok = ix.byKey[fallbackKey(doc)]
	}

	if !ok {
		e = &entry{key: key, doc: doc}
		ix.byKey[key] = e
		if fk := fallbackKey(doc); fk != key {
			ix.byKey[fk] = e
		}
		ix.entries = append(ix.entries, e)
		return doc, true
	}

	e.doc = merger.Merge(e.doc, doc)
	if doiKey := identityKey(e.doc); doiKey != e.key {
		if _, taken := ix.byKey[doiKey]; !taken {
			ix.byKey[doiKey] = e
			e.key = doiKey
		}
	}
	return e.doc, false
}

// len returns the number of distinct fused documents.
func (ix *identityIndex) len() int {
	return len(ix.entries)
}

// snapshot returns clones of the fused documents in first-seen order.
func (ix *identityIndex) snapshot() []*domain.ScholarlyDocument {
	out := make([]*domain.ScholarlyDocument, len(ix.entries))
	for i, e := range ix.entries {
		out[i] = e.doc.Clone()
	}
	return out
}
