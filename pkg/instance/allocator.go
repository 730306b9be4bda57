package instance

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/3leaps/fleetplan/pkg/deployplan"
)

var (
	// ErrPoolExhausted indicates every VM of a resource pool is allocated.
	ErrPoolExhausted = errors.New("resource pool exhausted")

	// ErrNoResourcePool indicates an allocator without a pool.
	ErrNoResourcePool = errors.New("no resource pool")
)

// VM is a machine allocated from a resource pool. Its CID is generated on
// first allocation and reused when the instance store already knows it.
type VM struct {
	CID          string
	ResourcePool string

	reservations map[string]*deployplan.NetworkReservation
}

// UseReservation records a network reservation the VM should be configured
// with.
func (v *VM) UseReservation(r *deployplan.NetworkReservation) {
	if r == nil {
		return
	}
	v.reservations[r.Network] = r
}

// Networks returns network name to IP for every reservation the VM uses.
func (v *VM) Networks() map[string]string {
	out := make(map[string]string, len(v.reservations))
	for name, r := range v.reservations {
		out[name] = r.IP
	}
	return out
}

// Allocator hands out VMs from one resource pool, up to the pool size.
// It is safe for concurrent use.
type Allocator struct {
	pool   *deployplan.ResourcePool
	newCID func() string

	mu     sync.Mutex
	owners map[string]string
}

// NewAllocator returns an allocator for pool.
func NewAllocator(pool *deployplan.ResourcePool) *Allocator {
	return &Allocator{
		pool:   pool,
		newCID: func() string { return "vm-" + uuid.NewString() },
		owners: make(map[string]string),
	}
}

// Allocate returns a VM for owner. A non-empty cid adopts a VM that already
// exists; it still counts against the pool size.
func (a *Allocator) Allocate(owner, cid string) (*VM, error) {
	if a == nil || a.pool == nil {
		return nil, ErrNoResourcePool
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cid != "" {
		if holder, ok := a.owners[cid]; ok && holder != owner {
			return nil, fmt.Errorf("vm %s already allocated to %s", cid, holder)
		}
	}
	if _, ok := a.owners[cid]; !ok && len(a.owners) >= a.pool.Size {
		return nil, fmt.Errorf("%w: %s (size %d) cannot host %s", ErrPoolExhausted, a.pool.Name, a.pool.Size, owner)
	}
	if cid == "" {
		cid = a.newCID()
	}
	a.owners[cid] = owner

	return &VM{
		CID:          cid,
		ResourcePool: a.pool.Name,
		reservations: make(map[string]*deployplan.NetworkReservation),
	}, nil
}

// Allocated returns the allocated VM CIDs in sorted order.
func (a *Allocator) Allocated() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.owners))
	for cid := range a.owners {
		out = append(out, cid)
	}
	sort.Strings(out)
	return out
}
