// Package storage defines the record store: the durable, append-only source of truth
// for issue records.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/quickref/internal/models"
)

var (
	// ErrRecordNotFound is returned when no record has the requested id.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateRecord is returned when appending an id that already exists.
	ErrDuplicateRecord = errors.New("duplicate record")
)

// RecordStore defines issue record persistence operations. Records are never
// updated or deleted; only the cached embedding of a record may be replaced.
type RecordStore interface {
	// Append validates and durably stores rec, returning its id.
	Append(ctx context.Context, rec *models.IssueRecord) (string, error)
	Get(ctx context.Context, id string) (*models.IssueRecord, error)
	// GetMany returns the records found among ids; missing ids are absent from the map.
	GetMany(ctx context.Context, ids []string) (map[string]*models.IssueRecord, error)
	// All returns every record in insertion order.
	All(ctx context.Context) ([]*models.IssueRecord, error)
	// List returns a page of records in insertion order.
	List(ctx context.Context, offset, limit int) ([]*models.IssueRecord, error)
	Count(ctx context.Context) (int64, error)

	// SetEmbedding caches the embedding computed for a record by model.
	SetEmbedding(ctx context.Context, id, model string, embedding []float32) error

	// AssigneeCounts returns how many records each assignee holds, most first.
	AssigneeCounts(ctx context.Context) ([]models.AssigneeCount, error)

	Close() error
}

// prepareAppend normalizes and validates rec before any write.
func prepareAppend(rec *models.IssueRecord) error {
	rec.Normalize()
	return rec.Validate()
}
