package state

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/maxpert/gtidstate/gtid"
	"github.com/maxpert/gtidstate/telemetry"
)

// queueElement is one registered position wait. It is jointly owned by the
// issuing request (for cancellation) and the coordinator (for wakeup); done
// transitions to true exactly once, always under the coordinator lock, in the
// same step that removes the element from its heap.
type queueElement struct {
	waitSeqNo   uint64
	requesterID uint64
	domainID    uint32
	index       int // heap index, -1 when not queued
	// doSmallWait marks the single waiter per domain responsible for
	// blocking on the slave element's signal on behalf of all others.
	doSmallWait bool
	done        bool
	result      error
	// wake is a coalescing signal; the receiver re-reads element state under
	// the coordinator lock to find out why it was woken.
	wake chan struct{}
}

func (e *queueElement) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// waitQueue holds one domain's waiters ordered by wait_seq_no ascending.
type waitQueue struct {
	domainID uint32
	elems    []*queueElement
	// small is the currently elected small waiter, nil when the queue has
	// never had one or the queue drained.
	small *queueElement
}

func (q *waitQueue) Len() int { return len(q.elems) }

func (q *waitQueue) Less(i, j int) bool { return q.elems[i].waitSeqNo < q.elems[j].waitSeqNo }

func (q *waitQueue) Swap(i, j int) {
	q.elems[i], q.elems[j] = q.elems[j], q.elems[i]
	q.elems[i].index = i
	q.elems[j].index = j
}

func (q *waitQueue) Push(x any) {
	e := x.(*queueElement)
	e.index = len(q.elems)
	q.elems = append(q.elems, e)
}

func (q *waitQueue) Pop() any {
	old := q.elems
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	q.elems = old[:n-1]
	return e
}

// Waiting coordinates sessions blocking until the slave state reaches a
// requested position. Per domain, exactly one registered waiter (the small
// waiter) blocks on the slave element's signal; everyone else piggybacks on
// its wakeups. That caps contention on the replication apply path at one
// waiter per domain no matter how many sessions are waiting.
type Waiting struct {
	mu   sync.Mutex
	hash map[uint32]*waitQueue
	ss   *SlaveState
	// registry indexes live waits by requester id so the kill path can find
	// its target without taking the coordinator lock to search.
	registry *xsync.MapOf[uint64, *queueElement]
	// blocked counts waiters currently suspended in a small wait.
	blocked atomic.Int32
}

func NewWaiting(ss *SlaveState) *Waiting {
	return &Waiting{
		hash:     make(map[uint32]*waitQueue),
		ss:       ss,
		registry: xsync.NewMapOf[uint64, *queueElement](),
	}
}

func (w *Waiting) getQueue(domainID uint32) *waitQueue {
	q, ok := w.hash[domainID]
	if !ok {
		q = &waitQueue{domainID: domainID}
		w.hash[domainID] = q
	}
	return q
}

// WaitForGTID blocks until the slave state of the target's domain reaches
// target.SeqNo, the timeout expires, ctx is done, or the requester is
// killed. A timeout of zero means wait forever. Returns nil on success,
// ErrWaitTimeout or ErrWaitCancelled otherwise.
//
// The common case, position already reached, takes only the slave state lock
// and never touches the coordinator.
func (w *Waiting) WaitForGTID(ctx context.Context, requesterID uint64, target gtid.GTID, timeout time.Duration) error {
	if w.ss.HighestSeqNo(target.DomainID) >= target.SeqNo {
		telemetry.WaitsTotal.With("immediate").Inc()
		return nil
	}

	start := time.Now()
	var deadlineCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	elem := &queueElement{
		waitSeqNo:   target.SeqNo,
		requesterID: requesterID,
		domainID:    target.DomainID,
		index:       -1,
		wake:        make(chan struct{}, 1),
	}

	w.mu.Lock()
	q := w.getQueue(target.DomainID)
	heap.Push(q, elem)
	if q.small == nil || q.small.done {
		q.small = elem
		elem.doSmallWait = true
	} else if elem.waitSeqNo < q.small.waitSeqNo {
		// A lower position entered the queue; the small waiter has to re-arm
		// on the new minimum.
		q.small.notify()
	}
	w.mu.Unlock()

	w.registry.Store(requesterID, elem)
	defer w.registry.Delete(requesterID)
	telemetry.ActiveWaiters.Inc()
	defer telemetry.ActiveWaiters.Dec()

	for {
		w.mu.Lock()
		if elem.done {
			if q.small == elem {
				w.promoteLocked(q)
			}
			res := elem.result
			w.mu.Unlock()
			w.recordWaitResult(res, start)
			return res
		}
		small := elem.doSmallWait
		var minSeq uint64
		if small {
			minSeq = q.elems[0].waitSeqNo
		}
		w.mu.Unlock()

		if small {
			w.smallWait(ctx, q, elem, minSeq, deadlineCh)
			continue
		}

		select {
		case <-elem.wake:
		case <-deadlineCh:
			w.finishWait(q, elem, ErrWaitTimeout)
		case <-ctx.Done():
			w.finishWait(q, elem, ErrWaitCancelled)
		}
	}
}

// smallWait performs the heavyweight blocking on behalf of the whole domain
// queue, then pops and wakes every waiter whose position has been satisfied.
func (w *Waiting) smallWait(ctx context.Context, q *waitQueue, elem *queueElement, minSeq uint64, deadlineCh <-chan time.Time) {
	ss := w.ss
	ss.mu.Lock()
	se := ss.getOrCreate(elem.domainID)
	var res error
	if se.highestSeqNo < minSeq {
		se.waiter = elem
		se.minWaitSeqNo = minSeq
		signal := se.waitSignal
		ss.mu.Unlock()

		w.blocked.Add(1)
		telemetry.SmallWaitersBlocked.Inc()
		select {
		case <-signal:
		case <-elem.wake:
		case <-deadlineCh:
			res = ErrWaitTimeout
		case <-ctx.Done():
			res = ErrWaitCancelled
		}
		w.blocked.Add(-1)
		telemetry.SmallWaitersBlocked.Dec()

		ss.mu.Lock()
		if se.waiter == elem {
			se.waiter = nil
		}
	}
	wakeupSeqNo := se.highestSeqNo
	ss.mu.Unlock()

	w.mu.Lock()
	w.processQueueLocked(q, wakeupSeqNo)
	if !elem.done && res != nil {
		heap.Remove(q, elem.index)
		elem.done = true
		elem.result = res
	}
	w.mu.Unlock()
}

// processQueueLocked pops and wakes every waiter satisfied by wakeupSeqNo.
func (w *Waiting) processQueueLocked(q *waitQueue, wakeupSeqNo uint64) {
	for len(q.elems) > 0 && q.elems[0].waitSeqNo <= wakeupSeqNo {
		e := heap.Pop(q).(*queueElement)
		e.done = true
		e.result = nil
		e.notify()
	}
}

// promoteLocked hands small-wait responsibility to the queue's new minimum.
// Only ever called by the thread holding elected status, under the
// coordinator lock.
func (w *Waiting) promoteLocked(q *waitQueue) {
	if len(q.elems) == 0 {
		q.small = nil
		return
	}
	q.small = q.elems[0]
	q.small.doSmallWait = true
	q.small.notify()
}

// finishWait resolves a waiter with a negative result unless it was already
// completed by a wakeup that raced with the timeout or cancellation.
func (w *Waiting) finishWait(q *waitQueue, elem *queueElement, res error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if elem.done {
		return
	}
	heap.Remove(q, elem.index)
	elem.done = true
	elem.result = res
}

// Kill cancels the registered wait of the given requester. Returns true when
// a live wait was cancelled; killing an already-completed or unknown wait is
// a no-op.
func (w *Waiting) Kill(requesterID uint64) bool {
	elem, ok := w.registry.Load(requesterID)
	if !ok {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if elem.done {
		return false
	}
	if elem.index >= 0 {
		heap.Remove(w.hash[elem.domainID], elem.index)
	}
	elem.done = true
	elem.result = ErrWaitCancelled
	elem.notify()
	return true
}

// WaitForPos parses a textual multi-domain position and waits for every
// domain in turn, sharing one deadline. The first timeout or cancellation
// fails the whole request without waiting on the remaining domains.
func (w *Waiting) WaitForPos(ctx context.Context, requesterID uint64, posText string, timeout time.Duration) error {
	list, err := gtid.ParseList(posText)
	if err != nil {
		return err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for _, target := range list {
		remaining := time.Duration(0)
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return ErrWaitTimeout
			}
		}
		if err := w.WaitForGTID(ctx, requesterID, target, remaining); err != nil {
			return err
		}
	}
	return nil
}

// QueueLen returns the number of registered waiters for a domain.
func (w *Waiting) QueueLen(domainID uint32) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.hash[domainID]
	if !ok {
		return 0
	}
	return len(q.elems)
}

// QueueDepths returns the registered waiter count per domain.
func (w *Waiting) QueueDepths() map[uint32]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[uint32]int, len(w.hash))
	for domainID, q := range w.hash {
		if len(q.elems) > 0 {
			out[domainID] = len(q.elems)
		}
	}
	return out
}

// BlockedWaiters reports how many waiters are suspended in a small wait
// right now. The small-waiter design keeps this at most one per domain.
func (w *Waiting) BlockedWaiters() int32 {
	return w.blocked.Load()
}

func (w *Waiting) recordWaitResult(res error, start time.Time) {
	telemetry.WaitDurationSeconds.Observe(time.Since(start).Seconds())
	switch res {
	case nil:
		telemetry.WaitsTotal.With("satisfied").Inc()
	case ErrWaitTimeout:
		telemetry.WaitsTotal.With("timeout").Inc()
	default:
		telemetry.WaitsTotal.With("cancelled").Inc()
	}
}
