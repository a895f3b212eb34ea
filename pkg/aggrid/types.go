package aggrid

import (
	"encoding/json"
	"fmt"
)

// Request is the server-side row request an AG-Grid datasource sends:
// a row window, per-column filters and a sort model.
type Request struct {
	StartRow int64 `json:"startRow"`
	EndRow   int64 `json:"endRow"`

	FilterModel map[string]*Filter `json:"filterModel,omitempty"`
	SortModel   []Sort             `json:"sortModel,omitempty"`
}

// Offset of the requested row window.
func (r *Request) Offset() int64 {
	if r.StartRow < 0 {
		return 0
	}
	return r.StartRow
}

// Limit of the requested row window; 0 means unbounded.
func (r *Request) Limit() int64 {
	if r.EndRow <= r.StartRow {
		return 0
	}
	return r.EndRow - r.StartRow
}

type Sort struct {
	ColID string `json:"colId"`
	Sort  string `json:"sort"` // "asc" or "desc"
}

// Filter is one column's filter state. Which fields are set depends on
// filterType and on whether this is a single condition, a combined
// condition pair, or a set filter.
type Filter struct {
	FilterType string `json:"filterType,omitempty"` // text, number, date
	Type       string `json:"type,omitempty"`       // operator name per family

	// Filter holds the comparison value: a string for text filters, a
	// number for number filters, or a two-element epoch-milliseconds
	// array for the bare range form.
	Filter json.RawMessage `json:"filter,omitempty"`

	// FilterTo is the upper bound of a number inRange condition.
	FilterTo *float64 `json:"filterTo,omitempty"`

	DateFrom string `json:"dateFrom,omitempty"`
	DateTo   string `json:"dateTo,omitempty"`

	// Operator combines sub-conditions: "AND" or "OR".
	Operator   string    `json:"operator,omitempty"`
	Condition1 *Filter   `json:"condition1,omitempty"`
	Condition2 *Filter   `json:"condition2,omitempty"`
	Conditions []*Filter `json:"conditions,omitempty"`

	// Values is the selection of a set filter.
	Values []string `json:"values,omitempty"`
}

// conditions gathers sub-conditions of a combined filter, accepting both
// the legacy condition1/condition2 shape and the conditions list.
func (f *Filter) conditions() []*Filter {
	if len(f.Conditions) > 0 {
		return f.Conditions
	}
	out := make([]*Filter, 0, 2)
	if f.Condition1 != nil {
		out = append(out, f.Condition1)
	}
	if f.Condition2 != nil {
		out = append(out, f.Condition2)
	}
	return out
}

func (f *Filter) filterString() (string, error) {
	var s string
	if err := json.Unmarshal(f.Filter, &s); err != nil {
		return "", fmt.Errorf("%w: text filter value should be a string: %s", ErrBadFilter, f.Filter)
	}
	return s, nil
}

func (f *Filter) filterNumber() (float64, error) {
	var n float64
	if err := json.Unmarshal(f.Filter, &n); err != nil {
		return 0, fmt.Errorf("%w: number filter value should be a number: %s", ErrBadFilter, f.Filter)
	}
	return n, nil
}

// filterMillisRange reads the bare `filter: [from, to]` epoch-milliseconds
// form. ok is false when Filter is not a two-element array.
func (f *Filter) filterMillisRange() (from, to int64, ok bool) {
	var pair []int64
	if err := json.Unmarshal(f.Filter, &pair); err != nil || len(pair) != 2 {
		return 0, 0, false
	}
	return pair[0], pair[1], true
}

// filterNumberRange reads the two-element `filter: [lo, hi]` form used by
// number between filters.
func (f *Filter) filterNumberRange() (lo, hi float64, ok bool) {
	var pair []float64
	if err := json.Unmarshal(f.Filter, &pair); err != nil || len(pair) != 2 {
		return 0, 0, false
	}
	return pair[0], pair[1], true
}
