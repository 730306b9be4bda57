package deployplan

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ReservationType distinguishes static IP requests from dynamic ones.
type ReservationType string

const (
	ReservationStatic  ReservationType = "static"
	ReservationDynamic ReservationType = "dynamic"
)

// NetworkReservation is an instance's claim on a network. The network
// collaborator fills IP and sets Reserved when the claim succeeds.
type NetworkReservation struct {
	Network  string          `json:"network"`
	Type     ReservationType `json:"type"`
	IP       string          `json:"ip,omitempty"`
	Reserved bool            `json:"reserved"`
}

// Network reserves addresses. Reserve fails when the network has no capacity
// or the reservation is invalid.
type Network interface {
	Reserve(ctx context.Context, reservation *NetworkReservation, description string) error
}

// Deployment resolves the networks declared by a deployment.
type Deployment interface {
	Network(name string) (Network, error)
}

// DeploymentRegistry resolves a job's non-owning deployment handle.
type DeploymentRegistry interface {
	Deployment(key DeploymentKey) (Deployment, error)
}

// VM is the machine an instance runs on, possibly not persisted yet.
type VM interface {
	UseReservation(reservation *NetworkReservation)
}

// Instance is one occurrence of a job. Instances are owned by the planner.
type Instance interface {
	Index() int
	BindUnallocatedVM(ctx context.Context) error
	SyncStateWithDB(ctx context.Context) error
	NetworkReservations() map[string]*NetworkReservation
	// VM returns nil until a VM is allocated.
	VM() VM
}

// BindUnallocatedVMs allocates a VM for every instance that lacks one and
// then syncs the instance with its persisted record. Allocation runs first
// because it may change what the sync has to capture.
func (j *Job) BindUnallocatedVMs(ctx context.Context) error {
	for _, inst := range j.Instances {
		if err := inst.BindUnallocatedVM(ctx); err != nil {
			return fmt.Errorf("job %s instance %d: bind vm: %w", j.Name, inst.Index(), err)
		}
		if err := inst.SyncStateWithDB(ctx); err != nil {
			return fmt.Errorf("job %s instance %d: sync state: %w", j.Name, inst.Index(), err)
		}
	}
	return nil
}

// BindInstanceNetworks reserves every instance network reservation that is
// not reserved yet and hands new reservations to already-allocated VMs.
// Reservation errors are returned unchanged.
func (j *Job) BindInstanceNetworks(ctx context.Context, registry DeploymentRegistry) error {
	deployment, err := registry.Deployment(j.Deployment)
	if err != nil {
		return fmt.Errorf("job %s: resolve deployment %q: %w", j.Name, j.Deployment, err)
	}

	for _, inst := range j.Instances {
		reservations := inst.NetworkReservations()
		names := make([]string, 0, len(reservations))
		for name := range reservations {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			reservation := reservations[name]
			if reservation.Reserved {
				continue
			}
			network, err := deployment.Network(name)
			if err != nil {
				return err
			}
			description := fmt.Sprintf("%s/%d", j.Name, inst.Index())
			if err := network.Reserve(ctx, reservation, description); err != nil {
				return err
			}
			j.logger.Debug("Reserved network",
				zap.String("instance", description),
				zap.String("network", name),
				zap.String("ip", reservation.IP))

			if vm := inst.VM(); vm != nil {
				vm.UseReservation(reservation)
			}
		}
	}
	return nil
}
