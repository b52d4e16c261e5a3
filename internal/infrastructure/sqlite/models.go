package sqlite

import (
	"fmt"
	"time"

	"github.com/TechDevGroup/obs-impl/internal/record"
	"github.com/TechDevGroup/obs-impl/internal/store"
)

// RecordModel represents the database row for the stage_records table.
// Name and flags are promoted to columns; the full record is kept as JSON.
type RecordModel struct {
	Name      string
	Flags     int64
	Data      string // JSON encoded record
	CreatedAt int64  // Unix timestamp
	UpdatedAt int64  // Unix timestamp
}

// toRecordModel converts a record to a row stamped with now.
func toRecordModel(r record.Record, now time.Time) (*RecordModel, error) {
	name := r.String(store.KeyName)
	if name == "" {
		return nil, fmt.Errorf("record has no name")
	}
	data, err := r.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding record %q: %w", name, err)
	}
	return &RecordModel{
		Name:      name,
		Flags:     r.Int("flags"),
		Data:      string(data),
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}, nil
}

// toRecord decodes a row back into a record.
func (m *RecordModel) toRecord() (record.Record, error) {
	r, err := record.Unmarshal([]byte(m.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding record %q: %w", m.Name, err)
	}
	return r, nil
}
