// Package store persists stage records.
package store

import (
	"context"
	"errors"

	"github.com/TechDevGroup/obs-impl/internal/record"
)

// ErrNotFound is returned by Get for an unknown name.
var ErrNotFound = errors.New("record not found")

// Store is a keyed collection of records. The key is the record's "name".
type Store interface {
	List(ctx context.Context) ([]record.Record, error)
	Get(ctx context.Context, name string) (record.Record, error)
	Put(ctx context.Context, rec record.Record) error
	Delete(ctx context.Context, name string) error
	// ReplaceAll makes recs the complete contents of the store.
	ReplaceAll(ctx context.Context, recs []record.Record) error
	Close() error
}

// KeyName is the record key stores index by.
const KeyName = "name"

func nameOf(rec record.Record) (string, error) {
	name := rec.String(KeyName)
	if name == "" {
		return "", errors.New("record has no name")
	}
	return name, nil
}
