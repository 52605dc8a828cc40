package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseEntryType accepts income or expense in any case.
func ParseEntryType(raw string) (EntryType, error) {
	switch t := EntryType(strings.ToLower(strings.TrimSpace(raw))); t {
	case Income, Expense:
		return t, nil
	}
	return "", fmt.Errorf("entry type %q: want income or expense", raw)
}

// ParseAmount parses a non-negative decimal amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount %q: must not be negative; the entry type carries the sign", raw)
	}
	return d, nil
}

// ParseEntryTime accepts RFC 3339 or a bare date (midnight in loc).
func ParseEntryTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: want RFC 3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}

// NewEntry validates the raw fields of a ledger row. An empty id gets a
// fresh one.
func NewEntry(id, tenant, at, typ, amount, category, note string, loc *time.Location) (Entry, error) {
	e := Entry{
		ID:       strings.TrimSpace(id),
		TenantID: strings.TrimSpace(tenant),
		Category: strings.TrimSpace(category),
		Note:     strings.TrimSpace(note),
	}
	if e.TenantID == "" {
		return Entry{}, errors.New("tenant id required")
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	var err error
	if e.At, err = ParseEntryTime(at, loc); err != nil {
		return Entry{}, err
	}
	if e.Type, err = ParseEntryType(typ); err != nil {
		return Entry{}, err
	}
	if e.Amount, err = ParseAmount(amount); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// ReadEntriesCSV reads ledger rows for one tenant. The header row names
// the columns: at, type and amount are required; category, note and id
// are optional. Rows without an id get a fresh one, so importing the same
// file twice duplicates those rows.
func ReadEntriesCSV(r io.Reader, tenant string, loc *time.Location) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"at", "type", "amount"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("csv header: missing column %q", need)
		}
	}
	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var out []Entry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		e, err := NewEntry(field(rec, "id"), tenant, field(rec, "at"), field(rec, "type"),
			field(rec, "amount"), field(rec, "category"), field(rec, "note"), loc)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, e)
	}
}
