package filter

import (
	"fmt"
	"io"

	"github.com/maxpert/gtidstate/gtid"
	"github.com/maxpert/gtidstate/telemetry"
)

// Warning flags collected by a Window during filtering.
const (
	warnSeqNoOutOfOrder uint32 = 1 << iota
)

// Window passes through events between a start GTID (exclusive) and a stop
// GTID (inclusive). The window is stateful: it activates once the stream
// passes the start position and deactivates after the stop position, so
// events from other server ids inside the window are admitted too. For
// example, with start 0-1-0 and stop 0-1-2 the stream 0-1-1, 0-2-1, 0-1-2 is
// included in full: the window activates at 0-1-1, admits 0-2-1 while
// active, and closes exactly after 0-1-2.
//
// Without a start the window is active from the beginning; without a stop it
// never finishes.
type Window struct {
	hasStart bool
	hasStop  bool
	active   bool
	passed   bool
	start    gtid.GTID
	stop     gtid.GTID

	lastSeen     gtid.GTID
	warningFlags uint32

	// strictMode points at the controlling filter's strict flag so toggling
	// it affects every window at once. May be nil.
	strictMode *bool
}

// NewWindow creates a window filter. Either bound may be nil.
func NewWindow(start, stop *gtid.GTID, strictMode *bool) *Window {
	w := &Window{strictMode: strictMode}
	if start != nil {
		w.SetStart(*start)
	}
	if stop != nil {
		w.SetStop(*stop)
	}
	return w
}

// SetStart sets the GTID that begins this window (exclusive).
func (w *Window) SetStart(start gtid.GTID) {
	w.hasStart = true
	w.start = start
}

// SetStop sets the GTID that ends this window (inclusive).
func (w *Window) SetStop(stop gtid.GTID) {
	w.hasStop = true
	w.stop = stop
}

func (w *Window) HasStart() bool       { return w.hasStart }
func (w *Window) HasStop() bool        { return w.hasStop }
func (w *Window) Start() gtid.GTID     { return w.start }
func (w *Window) Stop() gtid.GTID      { return w.stop }
func (w *Window) ClearStart()          { w.hasStart = false; w.start = gtid.GTID{} }
func (w *Window) ClearStop()           { w.hasStop = false; w.stop = gtid.GTID{} }
func (w *Window) SetStrict(flag *bool) { w.strictMode = flag }

// verifyExpected records a warning when the stream regresses within the
// window. Out-of-order arrival is a detectable anomaly of the stream being
// diagnosed, never a reason to stop filtering.
func (w *Window) verifyExpected(g gtid.GTID) {
	if w.active && !w.lastSeen.IsZero() && g.SeqNo < w.lastSeen.SeqNo {
		if w.warningFlags&warnSeqNoOutOfOrder == 0 {
			w.warningFlags |= warnSeqNoOutOfOrder
			telemetry.FilterWarningsTotal.Inc()
		}
	}
	w.lastSeen = g
}

// Exclude implements the window state machine. GTIDs are expected in
// non-decreasing per-domain seq_no order.
func (w *Window) Exclude(g gtid.GTID) bool {
	w.verifyExpected(g)

	if w.passed {
		return true
	}

	if !w.active {
		if !w.hasStart || g.SeqNo > w.start.SeqNo {
			w.active = true
		} else {
			return true
		}
	}

	if w.hasStop {
		if g.SeqNo > w.stop.SeqNo {
			// Stop position was skipped over; close without admitting.
			w.passed = true
			w.active = false
			return true
		}
		if g.SeqNo == w.stop.SeqNo {
			w.passed = true
			w.active = false
			return false
		}
	}
	return false
}

// HasFinished is true once the stream has passed the stop position.
func (w *Window) HasFinished() bool {
	return w.passed
}

// WriteWarnings emits collected anomalies. Strict mode spells out that the
// stream violated gtid_strict_mode expectations.
func (w *Window) WriteWarnings(out io.Writer) {
	if w.warningFlags&warnSeqNoOutOfOrder != 0 {
		strict := ""
		if w.strictMode != nil && *w.strictMode {
			strict = " while gtid_strict_mode is enabled"
		}
		fmt.Fprintf(out,
			"WARNING: found out of order GTID sequence numbers in domain %d%s, last seen %s\n",
			w.lastSeen.DomainID, strict, w.lastSeen)
	}
}
