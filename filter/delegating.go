package filter

import (
	"errors"
	"io"
	"sort"

	"github.com/maxpert/gtidstate/gtid"
)

var (
	errListAlreadySet = errors.New("a whitelist or blacklist is already configured")
	errStartExists    = errors.New("a start position already exists for the domain")
	errStopExists     = errors.New("a stop position already exists for the domain")
)

// filterEntry binds one explicitly registered child filter to an identifier.
type filterEntry struct {
	id     uint32
	filter Filter
}

// idDelegating routes each GTID to a child filter keyed by an identifier
// extracted from the GTID (domain or server id), falling back to a default
// filter when no child is registered. The zero default is AcceptAll.
type idDelegating struct {
	idFromGtid    func(gtid.GTID) uint32
	byID          map[uint32]*filterEntry
	defaultFilter Filter
	whitelistSet  bool
	blacklistSet  bool
}

func newIDDelegating(idFromGtid func(gtid.GTID) uint32) idDelegating {
	return idDelegating{
		idFromGtid:    idFromGtid,
		byID:          make(map[uint32]*filterEntry),
		defaultFilter: AcceptAll{},
	}
}

// SetDefault replaces the fallback filter used for identifiers without an
// explicit child.
func (f *idDelegating) SetDefault(def Filter) {
	f.defaultFilter = def
}

// SetBlacklist keeps the default at accept and rejects the given ids, unless
// an id is overridden later with a specific filter.
func (f *idDelegating) SetBlacklist(ids []uint32) error {
	if f.whitelistSet || f.blacklistSet {
		return errListAlreadySet
	}
	f.blacklistSet = true
	f.defaultFilter = AcceptAll{}
	for _, id := range ids {
		f.byID[id] = &filterEntry{id: id, filter: RejectAll{}}
	}
	return nil
}

// SetWhitelist rejects by default and accepts only the given ids.
func (f *idDelegating) SetWhitelist(ids []uint32) error {
	if f.whitelistSet || f.blacklistSet {
		return errListAlreadySet
	}
	f.whitelistSet = true
	f.defaultFilter = RejectAll{}
	for _, id := range ids {
		f.byID[id] = &filterEntry{id: id, filter: AcceptAll{}}
	}
	return nil
}

func (f *idDelegating) Exclude(g gtid.GTID) bool {
	if entry, ok := f.byID[f.idFromGtid(g)]; ok {
		return entry.filter.Exclude(g)
	}
	return f.defaultFilter.Exclude(g)
}

// HasFinished is true only once every explicitly registered child filter has
// finished. With no explicit children there is nothing to finish.
func (f *idDelegating) HasFinished() bool {
	if len(f.byID) == 0 {
		return false
	}
	for _, entry := range f.byID {
		if !entry.filter.HasFinished() {
			return false
		}
	}
	return true
}

func (f *idDelegating) WriteWarnings(w io.Writer) {
	for _, id := range f.sortedIDs() {
		f.byID[id].filter.WriteWarnings(w)
	}
	f.defaultFilter.WriteWarnings(w)
}

func (f *idDelegating) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(f.byID))
	for id := range f.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// windowForID returns the id's window filter, creating one when the id is
// unfiltered or currently bound to a constant filter.
func (f *idDelegating) windowForID(id uint32, strictMode *bool) *Window {
	if entry, ok := f.byID[id]; ok {
		if w, ok := entry.filter.(*Window); ok {
			return w
		}
	}
	w := NewWindow(nil, nil, strictMode)
	f.byID[id] = &filterEntry{id: id, filter: w}
	return w
}

// DomainFilter delegates filtering by the domain id of each GTID, and manages
// per-domain replay windows.
type DomainFilter struct {
	idDelegating
	strictMode bool
}

func NewDomainFilter() *DomainFilter {
	f := &DomainFilter{}
	f.idDelegating = newIDDelegating(func(g gtid.GTID) uint32 { return g.DomainID })
	return f
}

// SetStrictMode toggles gtid_strict_mode warnings for all per-domain windows,
// current and future.
func (f *DomainFilter) SetStrictMode(strict bool) {
	f.strictMode = strict
}

// AddStartGTID starts a replay window (exclusive) for the GTID's domain.
func (f *DomainFilter) AddStartGTID(g gtid.GTID) error {
	w := f.windowForID(g.DomainID, &f.strictMode)
	if w.HasStart() {
		return errStartExists
	}
	w.SetStart(g)
	return nil
}

// AddStopGTID ends the replay window (inclusive) for the GTID's domain.
func (f *DomainFilter) AddStopGTID(g gtid.GTID) error {
	w := f.windowForID(g.DomainID, &f.strictMode)
	if w.HasStop() {
		return errStopExists
	}
	w.SetStop(g)
	return nil
}

// ClearStartGTIDs removes every window's start position, so a respecified
// position starts over cleanly.
func (f *DomainFilter) ClearStartGTIDs() {
	for _, entry := range f.byID {
		if w, ok := entry.filter.(*Window); ok {
			w.ClearStart()
		}
	}
}

// ClearStopGTIDs removes every window's stop position.
func (f *DomainFilter) ClearStopGTIDs() {
	for _, entry := range f.byID {
		if w, ok := entry.filter.(*Window); ok {
			w.ClearStop()
		}
	}
}

// StartGTIDs returns all configured start positions, sorted by domain.
func (f *DomainFilter) StartGTIDs() []gtid.GTID {
	var out []gtid.GTID
	for _, id := range f.sortedIDs() {
		if w, ok := f.byID[id].filter.(*Window); ok && w.HasStart() {
			out = append(out, w.Start())
		}
	}
	return out
}

// StopGTIDs returns all configured stop positions, sorted by domain.
func (f *DomainFilter) StopGTIDs() []gtid.GTID {
	var out []gtid.GTID
	for _, id := range f.sortedIDs() {
		if w, ok := f.byID[id].filter.(*Window); ok && w.HasStop() {
			out = append(out, w.Stop())
		}
	}
	return out
}

// ServerFilter delegates filtering by the server id of each GTID.
type ServerFilter struct {
	idDelegating
}

func NewServerFilter() *ServerFilter {
	f := &ServerFilter{}
	f.idDelegating = newIDDelegating(func(g gtid.GTID) uint32 { return g.ServerID })
	return f
}
