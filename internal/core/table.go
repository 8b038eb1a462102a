package core

import (
	"strconv"
	"strings"
)

// Table is the in-memory collaborators table for one request. Records live in
// an arena addressed by position; the email index is rebuilt after every
// structural change so lookups never depend on stale positions.
type Table struct {
	records   []*Collaborator
	byEmail   map[string]int
	highWater int
}

// NewTable builds a table from decoded rows in stored order. highWater is the
// largest index ever assigned, as persisted alongside the table.
func NewTable(records []Collaborator, highWater int) *Table {
	t := &Table{
		records:   make([]*Collaborator, 0, len(records)),
		highWater: highWater,
	}
	for i := range records {
		rec := records[i].Clone()
		t.records = append(t.records, &rec)
	}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.byEmail = make(map[string]int, len(t.records))
	for i, rec := range t.records {
		email := rec.Email()
		if email == "" {
			continue
		}
		if _, seen := t.byEmail[email]; !seen {
			t.byEmail[email] = i
		}
	}
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// At returns the record stored at position i.
func (t *Table) At(i int) *Collaborator { return t.records[i] }

// All returns the live records in stored order.
func (t *Table) All() []*Collaborator {
	out := make([]*Collaborator, len(t.records))
	copy(out, t.records)
	return out
}

// Records returns deep copies of every record in stored order.
func (t *Table) Records() []Collaborator {
	out := make([]Collaborator, len(t.records))
	for i, rec := range t.records {
		out[i] = rec.Clone()
	}
	return out
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	return NewTable(t.Records(), t.highWater)
}

// FindByEmail returns the first record whose primary email matches,
// compared case-insensitively.
func (t *Table) FindByEmail(email string) *Collaborator {
	pos, ok := t.byEmail[normalizeEmail(email)]
	if !ok {
		return nil
	}
	return t.records[pos]
}

// FindByIndex returns the record whose index equals index as a string.
func (t *Table) FindByIndex(index string) *Collaborator {
	pos := t.positionOfIndex(index)
	if pos < 0 {
		return nil
	}
	return t.records[pos]
}

func (t *Table) positionOfIndex(index string) int {
	index = strings.TrimSpace(index)
	if index == "" {
		return -1
	}
	for i, rec := range t.records {
		if rec.Index == index {
			return i
		}
	}
	return -1
}

// PIsNamed returns every PI or Co-PI whose last name matches lastName.
func (t *Table) PIsNamed(lastName string) []*Collaborator {
	key := normalizeName(lastName)
	if key == "" {
		return nil
	}
	var out []*Collaborator
	for _, rec := range t.records {
		if rec.IsPI() && normalizeName(rec.LastName) == key {
			out = append(out, rec)
		}
	}
	return out
}

// Append adds rec at the end of the table and returns the stored record.
func (t *Table) Append(rec Collaborator) *Collaborator {
	stored := rec.Clone()
	t.records = append(t.records, &stored)
	if n := parseIndex(stored.Index); n > t.highWater {
		t.highWater = n
	}
	t.reindex()
	return &stored
}

// Remove deletes rec from the table. It reports whether rec was present.
func (t *Table) Remove(rec *Collaborator) bool {
	for i, candidate := range t.records {
		if candidate == rec {
			t.records = append(t.records[:i], t.records[i+1:]...)
			t.reindex()
			return true
		}
	}
	return false
}

// Reindex refreshes the email index after a primary email changed in place.
func (t *Table) Reindex() { t.reindex() }

// NextIndex returns the index to assign to a new record. Indices are never
// reused, even after the highest one has been deleted.
func (t *Table) NextIndex() string {
	return strconv.Itoa(t.maxIndex() + 1)
}

// HighWater returns the largest index ever assigned.
func (t *Table) HighWater() int {
	return t.maxIndex()
}

func (t *Table) maxIndex() int {
	highest := t.highWater
	for _, rec := range t.records {
		if n := parseIndex(rec.Index); n > highest {
			highest = n
		}
	}
	return highest
}

// parseIndex reads an index as an integer; unparsable or missing values are 0.
func parseIndex(index string) int {
	n, err := strconv.Atoi(strings.TrimSpace(index))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
