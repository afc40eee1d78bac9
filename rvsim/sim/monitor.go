package sim

import "sync"

// Load-linked/store-conditional monitors. The local monitor tracks the one
// outstanding reservation of a single simulator instance; the global monitor
// models cross-thread visibility of reservations across every instance in
// the process, serialized by one mutex. The emulation is deliberately
// conservative: any plain load or store clears reservations.

type monitorAccess int

const (
	monitorOpen monitorAccess = iota
	monitorRMW
)

// TransactionSize is the access width of a load-linked reservation.
type TransactionSize uint64

const (
	TransactionNone  TransactionSize = 0
	TransactionWord  TransactionSize = 4
	TransactionDWord TransactionSize = 8
)

// Reservations are matched at cache-line granularity when invalidating other
// threads, the coarsest (most conservative) plausible hardware behavior.
const exclusiveTaggedAddrMask = ^uint64(0x3F)

// A store-conditional is forced to fail after this many consecutive
// successes, imitating hardware where background cache evictions make
// LL/SC spuriously fail. Keeps retry loops in generated code honest.
const maxFailureCounter = 5

// LocalMonitor is the per-instance reservation state machine: either Open,
// or holding one pending read-modify-write tagged with address and width.
type LocalMonitor struct {
	access     monitorAccess
	taggedAddr uint64
	size       TransactionSize
}

func (m *LocalMonitor) Clear() {
	m.access = monitorOpen
	m.taggedAddr = 0
	m.size = TransactionNone
}

// NotifyLoad clears a pending reservation. A plain load by the owning thread
// could legally clear the monitor on real hardware, so the strictest
// behavior is to always clear.
func (m *LocalMonitor) NotifyLoad() {
	if m.access == monitorRMW {
		m.Clear()
	}
}

func (m *LocalMonitor) NotifyLoadLinked(addr uint64, size TransactionSize) {
	m.access = monitorRMW
	m.taggedAddr = addr
	m.size = size
}

// NotifyStore clears a pending reservation, for the same conservative reason
// as NotifyLoad.
func (m *LocalMonitor) NotifyStore() {
	if m.access == monitorRMW {
		m.Clear()
	}
}

// NotifyStoreConditional reports whether the store-conditional may succeed
// locally: a pending reservation with matching address and width.
func (m *LocalMonitor) NotifyStoreConditional(addr uint64, size TransactionSize) bool {
	if m.access != monitorRMW {
		return false
	}
	if addr == m.taggedAddr && size == m.size {
		m.Clear()
		return true
	}
	return false
}

// LinkedAddress is one instance's record in the global monitor's list.
// It is owned by the simulator instance and linked/unlinked under the
// global monitor's mutex.
type LinkedAddress struct {
	access     monitorAccess
	taggedAddr uint64

	next, prev *LinkedAddress

	failureCounter int
}

func (l *LinkedAddress) clearLocked() {
	l.access = monitorOpen
	l.taggedAddr = 0
}

func (l *LinkedAddress) notifyLoadLinkedLocked(addr uint64) {
	l.access = monitorRMW
	l.taggedAddr = addr
}

func (l *LinkedAddress) notifyStoreLocked() {
	if l.access == monitorRMW {
		l.clearLocked()
	}
}

func (l *LinkedAddress) notifyStoreConditionalLocked(addr uint64, isRequestingThread bool) bool {
	if l.access != monitorRMW {
		return false
	}
	if isRequestingThread {
		if addr == l.taggedAddr {
			l.clearLocked()
			// Occasional forced failure, imitating background cache
			// evictions on real hardware.
			l.failureCounter++
			if l.failureCounter > maxFailureCounter {
				l.failureCounter = 0
				return false
			}
			return true
		}
	} else if addr&exclusiveTaggedAddrMask == l.taggedAddr&exclusiveTaggedAddrMask {
		// Another thread succeeded on an overlapping line; match at line
		// granularity so the emulated locking is as coarse as possible.
		l.clearLocked()
		return false
	}
	return false
}

// GlobalMonitor is the process-wide reservation table: a mutex-protected
// doubly-linked list of per-instance LinkedAddress records. It outlives any
// individual simulator instance; instances detach on Close.
type GlobalMonitor struct {
	mu   sync.Mutex
	head *LinkedAddress
}

var (
	defaultGlobalMonitor     *GlobalMonitor
	defaultGlobalMonitorOnce sync.Once
)

// DefaultGlobalMonitor returns the lazily-created process-wide monitor.
func DefaultGlobalMonitor() *GlobalMonitor {
	defaultGlobalMonitorOnce.Do(func() {
		defaultGlobalMonitor = &GlobalMonitor{}
	})
	return defaultGlobalMonitor
}

// NotifyLoadLinked records a reservation and makes sure the instance's
// record is in the list.
func (g *GlobalMonitor) NotifyLoadLinked(addr uint64, linked *LinkedAddress) {
	g.mu.Lock()
	defer g.mu.Unlock()
	linked.notifyLoadLinkedLocked(addr)
	g.prependLocked(linked)
}

// NotifyStore tells every instance about a plain store, clearing all
// reservations.
func (g *GlobalMonitor) NotifyStore(linked *LinkedAddress) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for iter := g.head; iter != nil; iter = iter.next {
		iter.notifyStoreLocked()
	}
}

// NotifyStoreConditional arbitrates a store-conditional: success requires
// the requesting instance's own reservation to hold, and on success every
// other instance's overlapping reservation is invalidated.
func (g *GlobalMonitor) NotifyStoreConditional(addr uint64, linked *LinkedAddress) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notifyStoreConditionalLocked(addr, linked)
}

func (g *GlobalMonitor) notifyStoreConditionalLocked(addr uint64, linked *LinkedAddress) bool {
	if !g.isInListLocked(linked) {
		return false
	}
	if !linked.notifyStoreConditionalLocked(addr, true) {
		return false
	}
	for iter := g.head; iter != nil; iter = iter.next {
		if iter != linked {
			iter.notifyStoreConditionalLocked(addr, false)
		}
	}
	return true
}

func (g *GlobalMonitor) isInListLocked(linked *LinkedAddress) bool {
	return g.head == linked || linked.next != nil || linked.prev != nil
}

func (g *GlobalMonitor) prependLocked(linked *LinkedAddress) {
	if g.isInListLocked(linked) {
		return
	}
	if g.head != nil {
		g.head.prev = linked
	}
	linked.prev = nil
	linked.next = g.head
	g.head = linked
}

// RemoveLinkedAddress detaches an instance's record, called when the
// instance is destroyed.
func (g *GlobalMonitor) RemoveLinkedAddress(linked *LinkedAddress) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isInListLocked(linked) {
		return
	}
	if linked.prev != nil {
		linked.prev.next = linked.next
	} else {
		g.head = linked.next
	}
	if linked.next != nil {
		linked.next.prev = linked.prev
	}
	linked.prev = nil
	linked.next = nil
}
