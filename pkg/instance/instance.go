// Package instance implements job instances: VM allocation from a resource
// pool, network reservations, and state persisted in the instance store.
package instance

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/pkg/deployplan"
	"github.com/3leaps/fleetplan/pkg/instancestore"
)

// Instance is one occurrence of a job.
type Instance struct {
	job       *deployplan.Job
	index     int
	allocator *Allocator
	db        instancestore.DBTX
	logger    *zap.Logger

	reservations map[string]*deployplan.NetworkReservation
	vm           *VM
}

// New returns an instance of job at index. A nil db disables persistence.
func New(job *deployplan.Job, index int, allocator *Allocator, db instancestore.DBTX, logger *zap.Logger) *Instance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instance{
		job:          job,
		index:        index,
		allocator:    allocator,
		db:           db,
		logger:       logger.With(zap.String("instance", fmt.Sprintf("%s/%d", job.Name, index))),
		reservations: make(map[string]*deployplan.NetworkReservation),
	}
}

// Index returns the instance index within its job.
func (i *Instance) Index() int {
	return i.index
}

// AddNetworkReservation registers a reservation to be bound later.
func (i *Instance) AddNetworkReservation(r *deployplan.NetworkReservation) {
	i.reservations[r.Network] = r
}

// NetworkReservations returns the instance's reservations keyed by network.
func (i *Instance) NetworkReservations() map[string]*deployplan.NetworkReservation {
	return i.reservations
}

// VM returns the allocated VM, or nil.
func (i *Instance) VM() deployplan.VM {
	if i.vm == nil {
		return nil
	}
	return i.vm
}

// State returns the effective state of the instance with virtual states
// resolved.
func (i *Instance) State() deployplan.JobState {
	state, _ := i.job.InstanceState(i.index).Resolve()
	return state
}

// BindUnallocatedVM allocates a VM unless one is bound already or the
// instance is detached. A VM CID remembered by the instance store is reused.
func (i *Instance) BindUnallocatedVM(ctx context.Context) error {
	if i.vm != nil || i.State() == deployplan.JobStateDetached {
		return nil
	}

	var cid string
	if i.db != nil {
		row, err := instancestore.GetInstance(ctx, i.db, string(i.job.Deployment), i.job.Name, i.index)
		if err != nil {
			return err
		}
		if row != nil {
			cid = row.VMCID
		}
	}

	vm, err := i.allocator.Allocate(fmt.Sprintf("%s/%d", i.job.Name, i.index), cid)
	if err != nil {
		return err
	}
	for _, r := range i.reservations {
		if r.Reserved {
			vm.UseReservation(r)
		}
	}
	i.vm = vm
	i.logger.Debug("Bound VM", zap.String("vm_cid", vm.CID), zap.Bool("adopted", cid != ""))
	return nil
}

// SyncStateWithDB records the instance state and VM in the instance store.
func (i *Instance) SyncStateWithDB(ctx context.Context) error {
	if i.db == nil {
		return nil
	}
	row := instancestore.InstanceRow{
		Deployment: string(i.job.Deployment),
		Job:        i.job.Name,
		Index:      i.index,
		State:      string(i.State()),
	}
	if i.vm != nil {
		row.VMCID = i.vm.CID
	}
	return instancestore.UpsertInstance(ctx, i.db, row)
}

// Summary is a read-only view of an instance after binding.
type Summary struct {
	Index    int               `json:"index"`
	State    string            `json:"state"`
	VMCID    string            `json:"vm_cid,omitempty"`
	Networks map[string]string `json:"networks,omitempty"`
}

// Summary reports the bound state of the instance.
func (i *Instance) Summary() Summary {
	s := Summary{Index: i.index, State: string(i.State())}
	if i.vm != nil {
		s.VMCID = i.vm.CID
	}
	names := make([]string, 0, len(i.reservations))
	for name := range i.reservations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := i.reservations[name]
		if !r.Reserved {
			continue
		}
		if s.Networks == nil {
			s.Networks = make(map[string]string, len(names))
		}
		s.Networks[name] = r.IP
	}
	return s
}
