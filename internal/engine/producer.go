package engine

import (
	"context"
	"fmt"

	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/store"
)

// Producer pairs a live query over the store with a unit of work.
//
// Records is called on every scheduling pass; implementations must not
// cache results across calls, so records created or changed by earlier work
// become visible on the next pass. Call runs the unit of work for one
// record inside a store transaction and expresses its mutations through tx.
//
// Producers are shared read-only across concurrent executions.
type Producer interface {
	ID() string
	Label() string
	Records(ctx context.Context, r store.Reader) ([]store.Record, error)
	Call(ctx context.Context, tx *store.Tx, rec store.Record) error
}

// Validator is implemented by producers and sources that can check
// themselves against a registry. The processor calls Validate once when it
// is built.
type Validator interface {
	Validate(reg *schema.Registry) error
}

// Work is a unit of work. The record is the one the producer's query
// returned; tx is the open transaction for this execution.
type Work func(ctx context.Context, tx *store.Tx, rec store.Record) error

// Source yields candidate records.
type Source interface {
	Records(ctx context.Context, r store.Reader) ([]store.Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, r store.Reader) ([]store.Record, error)

// Records implements Source.
func (f SourceFunc) Records(ctx context.Context, r store.Reader) ([]store.Record, error) {
	return f(ctx, r)
}

// Query returns a Source that runs sel against the store on every call.
func Query(sel query.Select) Source {
	return querySource{sel: sel}
}

type querySource struct {
	sel query.Select
}

func (q querySource) Records(ctx context.Context, r store.Reader) ([]store.Record, error) {
	return r.Where(ctx, q.sel.Type, q.sel.Filter)
}

// Validate rejects unknown types and filters on undeclared attributes.
// A nil registry accepts everything.
func (q querySource) Validate(reg *schema.Registry) error {
	if reg == nil {
		return nil
	}
	return query.Validate(q.sel, reg)
}

// ProducerOption configures a producer built by NewProducer.
type ProducerOption func(*producer)

// WithID sets the producer's ID. The ID appears in logs, errors and
// metrics.
func WithID(id string) ProducerOption {
	return func(p *producer) { p.id = id }
}

// WithLabel sets the label passed to before-work hooks.
func WithLabel(label string) ProducerOption {
	return func(p *producer) { p.label = label }
}

type producer struct {
	id     string
	label  string
	source Source
	work   Work
}

// NewProducer builds a Producer from a source and a unit of work.
//
// Without WithID the ID is derived from the label, then from the queried
// type for Query sources.
func NewProducer(source Source, work Work, opts ...ProducerOption) Producer {
	p := &producer{source: source, work: work}
	for _, opt := range opts {
		opt(p)
	}
	if p.id == "" {
		p.id = defaultID(p)
	}
	return p
}

func defaultID(p *producer) string {
	if p.label != "" {
		return p.label
	}
	if q, ok := p.source.(querySource); ok {
		return "query:" + q.sel.Type
	}
	return "producer"
}

func (p *producer) ID() string    { return p.id }
func (p *producer) Label() string { return p.label }

func (p *producer) Records(ctx context.Context, r store.Reader) ([]store.Record, error) {
	return p.source.Records(ctx, r)
}

func (p *producer) Call(ctx context.Context, tx *store.Tx, rec store.Record) error {
	return p.work(ctx, tx, rec)
}

// Validate checks the producer's wiring and, when its source supports it,
// the source against reg.
func (p *producer) Validate(reg *schema.Registry) error {
	if p.source == nil {
		return configError("producer %s has no source", p.id)
	}
	if p.work == nil {
		return configError("producer %s has no work function", p.id)
	}
	if v, ok := p.source.(Validator); ok {
		if err := v.Validate(reg); err != nil {
			return fmt.Errorf("producer %s: %w", p.id, err)
		}
	}
	return nil
}
