// Package history keeps the in-memory ledger of completed runs.
//
// The ledger is append-only. Indices are dense, zero-based and never reused;
// nothing survives a restart.
package history

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrRecordNotFound is returned for an index outside the ledger.
var ErrRecordNotFound = errors.New("history record not found")

// Ledger is safe for concurrent readers. The coordinator is its only writer.
type Ledger struct {
	mu      sync.RWMutex
	records []Record
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append stores rec and returns its index.
func (l *Ledger) Append(rec Record) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return len(l.records) - 1
}

// Get returns the record at index.
func (l *Ledger) Get(index int) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.records) {
		return Record{}, fmt.Errorf("index %d: %w", index, ErrRecordNotFound)
	}
	return l.records[index], nil
}

// All returns a copy of every record in insertion order.
func (l *Ledger) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Replay writes the captured output of the record at index to w.
func (l *Ledger) Replay(index int, w io.Writer) error {
	rec, err := l.Get(index)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, rec.Output); err != nil {
		return fmt.Errorf("replay record %d: %w", index, err)
	}
	return nil
}
