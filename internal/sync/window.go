package sync

import (
	"errors"
	"fmt"
	"time"
)

// ErrInconsistentPage is returned when the API contradicts its own totals,
// e.g. an empty page while matching records remain. Continuing would loop
// forever, so the run is aborted.
var ErrInconsistentPage = errors.New("inconsistent page from source")

// Phase is the extraction state after a page has been consumed.
type Phase int

const (
	// Paging means more pages remain under the current filter.
	Paging Phase = iota
	// WindowExhausted means the per-query result cap was reached; the filter
	// must be re-anchored at the watermark and paging restarted.
	WindowExhausted
	// Terminated means every matching record has been read.
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Paging:
		return "paging"
	case WindowExhausted:
		return "window_exhausted"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Window tracks the cursor over one filter+sort combination.
type Window struct {
	// Filter is the exclusive lower bound of the current query.
	Filter string
	// Watermark is the highest replication value seen so far.
	Watermark string
	// Page is the next page to request.
	Page int
	// Seen counts records read under Filter.
	Seen int

	limit int
}

// NewWindow opens a window at watermark. limit is the most records the source
// will return for one filter.
func NewWindow(watermark string, limit int) *Window {
	return &Window{
		Filter:    watermark,
		Watermark: watermark,
		limit:     limit,
	}
}

// Advance consumes a page of count records out of total matching, where last
// is the replication value of the final record, and returns the next phase.
func (w *Window) Advance(count, total int, last string) (Phase, error) {
	w.Page++
	w.Seen += count

	if count > 0 && last != "" && notBefore(last, w.Watermark) {
		w.Watermark = last
	}

	switch {
	case w.Seen >= w.limit && total >= w.Seen:
		if notBefore(w.Filter, w.Watermark) {
			return Paging, fmt.Errorf("%w: %d records under filter %q did not advance the watermark", ErrInconsistentPage, w.Seen, w.Filter)
		}
		return WindowExhausted, nil
	case total < w.limit && w.Seen >= total:
		return Terminated, nil
	case count == 0:
		return Paging, fmt.Errorf("%w: empty page %d with %d of %d records read", ErrInconsistentPage, w.Page-1, w.Seen, total)
	}
	return Paging, nil
}

// Reopen anchors a fresh window at the current watermark.
func (w *Window) Reopen() {
	w.Filter = w.Watermark
	w.Page = 0
	w.Seen = 0
}

// notBefore reports whether candidate >= current. RFC 3339 values are compared
// as instants, so "00Z" and "00.000Z" are equal. Anything else falls back to
// lexical order.
func notBefore(candidate, current string) bool {
	if current == "" {
		return true
	}
	c, errC := time.Parse(time.RFC3339Nano, candidate)
	w, errW := time.Parse(time.RFC3339Nano, current)
	if errC == nil && errW == nil {
		return !c.Before(w)
	}
	return candidate >= current
}
