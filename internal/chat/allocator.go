// Package chat provides the per-document multicast group address allocator
// and the out-of-band group chat transport used by concurrent editors.
package chat

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/and161185/collabdoc/internal/errs"
)

// Administratively-scoped IPv4 multicast pool, 239.0.0.1 through
// 239.255.255.254 inclusive.
const (
	PoolBase  uint32 = 0xEF000001
	PoolBound uint32 = 0xEFFFFFFE
)

// Allocator hands out one multicast group address per document while any of
// its sections is being edited. An address stays bound to its document
// until released and is then reusable by another document.
type Allocator struct {
	mu    sync.Mutex
	byDoc map[string]uint32
	inUse map[uint32]string
}

// NewAllocator constructs an allocator over the full pool.
func NewAllocator() *Allocator {
	return &Allocator{
		byDoc: make(map[string]uint32),
		inUse: make(map[uint32]string),
	}
}

// AddressFor returns the address already bound to the document, or binds
// the lowest address not assigned to any document. It fails with
// errs.ErrAddressesExhausted when the pool is fully assigned.
func (a *Allocator) AddressFor(doc string) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr, ok := a.byDoc[doc]; ok {
		return addr, nil
	}
	if len(a.inUse) == int(PoolBound-PoolBase)+1 {
		return 0, errs.ErrAddressesExhausted
	}
	for addr := PoolBase; addr <= PoolBound; addr++ {
		if _, taken := a.inUse[addr]; !taken {
			a.byDoc[doc] = addr
			a.inUse[addr] = doc
			return addr, nil
		}
	}
	return 0, errs.ErrAddressesExhausted
}

// Release unbinds the document's address, if any. Callers invoke it once no
// section of the document has an editor.
func (a *Allocator) Release(doc string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr, ok := a.byDoc[doc]; ok {
		delete(a.byDoc, doc)
		delete(a.inUse, addr)
	}
}

// Assigned returns the number of currently bound addresses.
func (a *Allocator) Assigned() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byDoc)
}

// GroupIP converts a pool value to its dotted-quad IPv4 form.
func GroupIP(addr uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, addr)
	return ip
}
