package providers

import (
	"context"

	"github.com/helixir/lumen-search/internal/domain"
)

const (
	// streamBuffer is the channel capacity of a page stream.
	streamBuffer = 16

	// DefaultSearchLimit caps a page stream whose caller set no limit.
	DefaultSearchLimit = 1000
)

// RequestGate admits one further request of a task that is already running.
// A non-nil error means the request must not be sent.
type RequestGate func(ctx context.Context) error

type requestGateKey struct{}

// WithRequestGate attaches gate to ctx. StreamPages consults it before
// every page after the first.
func WithRequestGate(ctx context.Context, gate RequestGate) context.Context {
	return context.WithValue(ctx, requestGateKey{}, gate)
}

// AdmitRequest runs the gate attached to ctx. Without a gate every request
// is admitted.
func AdmitRequest(ctx context.Context) error {
	gate, ok := ctx.Value(requestGateKey{}).(RequestGate)
	if !ok || gate == nil {
		return nil
	}
	return gate(ctx)
}

// PageFunc fetches one page of results. page counts from zero. done reports
// that no further pages exist.
type PageFunc func(ctx context.Context, page int) (docs []*domain.ScholarlyDocument, done bool, err error)

// StreamPages runs fetch page by page on its own goroutine and sends every
// document on the returned channel. It stops after limit documents (limit <= 0
// means DefaultSearchLimit), when a page reports done or is empty, after
// sending a fetch error or a request gate refusal, or when ctx is done. The
// channel is always closed.
func StreamPages(ctx context.Context, limit int, fetch PageFunc) <-chan SearchItem {
	out := make(chan SearchItem, streamBuffer)
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	go func() {
		defer close(out)

		sent := 0
		for page := 0; ; page++ {
			if ctx.Err() != nil {
				return
			}
			if page > 0 {
				if err := AdmitRequest(ctx); err != nil {
					if ctx.Err() == nil {
						send(ctx, out, SearchItem{Err: err})
					}
					return
				}
			}

			docs, done, err := fetch(ctx, page)
			if err != nil {
				if ctx.Err() == nil {
					send(ctx, out, SearchItem{Err: err})
				}
				return
			}

			for _, doc := range docs {
				if doc == nil {
					continue
				}
				if !send(ctx, out, SearchItem{Document: doc}) {
					return
				}
				sent++
				if sent >= limit {
					return
				}
			}

			if done || len(docs) == 0 {
				return
			}
		}
	}()

	return out
}

// send delivers item unless ctx is done first.
func send(ctx context.Context, out chan<- SearchItem, item SearchItem) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// Drain reads a stream to the end and returns its documents. It returns the
// first item error, together with the documents received before it.
func Drain(ctx context.Context, items <-chan SearchItem) ([]*domain.ScholarlyDocument, error) {
	var docs []*domain.ScholarlyDocument
	for {
		select {
		case <-ctx.Done():
			return docs, ctx.Err()
		case item, ok := <-items:
			if !ok {
				return docs, nil
			}
			if item.Err != nil {
				return docs, item.Err
			}
			docs = append(docs, item.Document)
		}
	}
}

// PageSize returns the page size to request so that a search capped at
// limit documents does not over-fetch. limit <= 0 means no cap below maxPage.
func PageSize(limit, maxPage int) int {
	if limit > 0 && limit < maxPage {
		return limit
	}
	return maxPage
}
