// Package filter decides, per GTID, whether the log events of the
// corresponding event group should be replayed or dropped. Filters are
// composable predicate objects owned by a single replay request; they are not
// safe for concurrent use and expect GTIDs in non-decreasing per-domain
// seq_no order.
package filter

import (
	"io"

	"github.com/maxpert/gtidstate/gtid"
)

// Filter is the capability every filter variant implements.
type Filter interface {
	// Exclude reports whether the event group of g should be excluded from
	// the result.
	Exclude(g gtid.GTID) bool

	// HasFinished reports that no further GTID can be included, letting the
	// caller stop reading the stream early.
	HasFinished() bool

	// WriteWarnings emits any non-fatal issues collected during filtering.
	// Deferred until after processing so warnings do not interleave with
	// the output.
	WriteWarnings(w io.Writer)
}

// AcceptAll includes every GTID. It is the default for domains that carry no
// explicit filter.
type AcceptAll struct{}

func (AcceptAll) Exclude(gtid.GTID) bool  { return false }
func (AcceptAll) HasFinished() bool       { return false }
func (AcceptAll) WriteWarnings(io.Writer) {}

// RejectAll excludes every GTID.
type RejectAll struct{}

func (RejectAll) Exclude(gtid.GTID) bool  { return true }
func (RejectAll) HasFinished() bool       { return false }
func (RejectAll) WriteWarnings(io.Writer) {}

// Intersecting includes a GTID only when both child filters include it.
type Intersecting struct {
	First  Filter
	Second Filter
}

func NewIntersecting(first, second Filter) *Intersecting {
	return &Intersecting{First: first, Second: second}
}

// Exclude feeds both children so stateful filters keep tracking the stream,
// then excludes when either child excludes.
func (f *Intersecting) Exclude(g gtid.GTID) bool {
	first := f.First.Exclude(g)
	second := f.Second.Exclude(g)
	return first || second
}

func (f *Intersecting) HasFinished() bool {
	return f.First.HasFinished() && f.Second.HasFinished()
}

func (f *Intersecting) WriteWarnings(w io.Writer) {
	f.First.WriteWarnings(w)
	f.Second.WriteWarnings(w)
}
