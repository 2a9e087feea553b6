package store

import (
	"context"

	"github.com/rendis/flowlab/internal/graph"
)

// GraphStore loads and saves hydrated flowcharts by id.
type GraphStore struct {
	store Store
	opts  []graph.Option
}

// NewGraphStore wraps s. opts are applied to every flowchart it hydrates.
func NewGraphStore(s Store, opts ...graph.Option) *GraphStore {
	return &GraphStore{store: s, opts: opts}
}

// Load hydrates the stored flowchart id.
func (g *GraphStore) Load(ctx context.Context, id string) (*graph.Flowchart, error) {
	rec, err := g.store.GetFlowchart(ctx, id)
	if err != nil {
		return nil, err
	}
	return graph.FromDocument(rec.Document, g.opts...)
}

// Save serializes f under id, keeping the stored name.
func (g *GraphStore) Save(ctx context.Context, id string, f *graph.Flowchart) error {
	rec := &FlowchartRecord{ID: id, Document: f.ToDocument()}
	if prev, err := g.store.GetFlowchart(ctx, id); err == nil {
		rec.Name = prev.Name
		rec.CreatedAt = prev.CreatedAt
	}
	return g.store.SaveFlowchart(ctx, rec)
}
