package testutil

import (
	"context"
	"testing"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/value"
)

// DemoRegistry declares the two record types used across package tests:
//
//	main:     started bool (default false)
//	record_1: record_id int, processed bool (default false)
func DemoRegistry() *schema.Registry {
	return schema.MustRegistry(
		schema.RecordType{Name: "main", Attributes: []schema.Attribute{
			{Name: "started", Kind: schema.KindBool, Default: value.Bool(false), HasDefault: true},
		}},
		schema.RecordType{Name: "record_1", Attributes: []schema.Attribute{
			{Name: "record_id", Kind: schema.KindInt},
			{Name: "processed", Kind: schema.KindBool, Default: value.Bool(false), HasDefault: true},
		}},
	)
}

// NewStore opens an in-memory store over DemoRegistry with ids
// "id-1", "id-2", ... Extra options are applied last.
func NewStore(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	opts = append([]store.Option{
		store.WithRegistry(DemoRegistry()),
		store.WithIDGenerator(changeset.NewSequenceGenerator("id")),
	}, opts...)
	s, err := store.Open(context.Background(), store.NewMemoryBackend(), opts...)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	return s
}

// Seed creates n records of typ with attrs in one transaction.
func Seed(t testing.TB, s *store.Store, typ string, n int, attrs map[string]any) []store.Record {
	t.Helper()
	var out []store.Record
	_, err := s.Transaction(context.Background(), func(ctx context.Context, tx *store.Tx) error {
		for i := 0; i < n; i++ {
			rec, err := tx.New(typ, attrs)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed %s: %v", typ, err)
	}
	return out
}
