package planner

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/pkg/deployplan"
	"github.com/3leaps/fleetplan/pkg/instance"
	"github.com/3leaps/fleetplan/pkg/manifest"
	"github.com/3leaps/fleetplan/pkg/network"
	"github.com/3leaps/fleetplan/pkg/release"
)

var (
	// ErrUnknownNetwork indicates a reservation names an undeclared network.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrUnknownDeployment indicates a job references another deployment.
	ErrUnknownDeployment = errors.New("unknown deployment")

	// ErrDuplicateName indicates two networks, pools or jobs share a name.
	ErrDuplicateName = errors.New("duplicate name")
)

// Deployment is the planning view of one manifest: its releases, networks
// and pools. It satisfies both the job spec parser's and the binder's view
// of a deployment.
type Deployment struct {
	name       string
	catalog    *release.Catalog
	networks   map[string]*network.Manual
	pools      map[string]*deployplan.ResourcePool
	allocators map[string]*instance.Allocator
	disks      map[string]*deployplan.DiskPool
	properties map[string]any
	update     map[string]any
}

func newDeployment(m *manifest.Manifest, logger *zap.Logger) (*Deployment, error) {
	catalog, err := release.NewCatalog(m.Releases)
	if err != nil {
		return nil, err
	}

	d := &Deployment{
		name:       m.Name,
		catalog:    catalog,
		networks:   make(map[string]*network.Manual, len(m.Networks)),
		pools:      make(map[string]*deployplan.ResourcePool, len(m.ResourcePools)),
		allocators: make(map[string]*instance.Allocator, len(m.ResourcePools)),
		disks:      make(map[string]*deployplan.DiskPool, len(m.DiskPools)),
		properties: m.Properties,
		update:     m.Update,
	}

	for _, cfg := range m.Networks {
		if _, dup := d.networks[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: network %s", ErrDuplicateName, cfg.Name)
		}
		n, err := network.NewManual(cfg, logger)
		if err != nil {
			return nil, err
		}
		d.networks[cfg.Name] = n
	}

	for _, cfg := range m.ResourcePools {
		if _, dup := d.pools[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: resource pool %s", ErrDuplicateName, cfg.Name)
		}
		if cfg.Network != "" {
			if _, ok := d.networks[cfg.Network]; !ok {
				return nil, fmt.Errorf("resource pool %s: %w: %s", cfg.Name, ErrUnknownNetwork, cfg.Network)
			}
		}
		pool := &deployplan.ResourcePool{
			Name:            cfg.Name,
			Size:            cfg.Size,
			Stemcell:        cfg.Stemcell,
			Network:         cfg.Network,
			CloudProperties: cfg.CloudProperties,
		}
		d.pools[cfg.Name] = pool
		d.allocators[cfg.Name] = instance.NewAllocator(pool)
	}

	for _, cfg := range m.DiskPools {
		if _, dup := d.disks[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: disk pool %s", ErrDuplicateName, cfg.Name)
		}
		d.disks[cfg.Name] = &deployplan.DiskPool{
			Name:            cfg.Name,
			DiskSize:        cfg.DiskSize,
			CloudProperties: cfg.CloudProperties,
		}
	}
	return d, nil
}

// Name returns the deployment name.
func (d *Deployment) Name() string { return d.name }

// Catalog returns the deployment's release catalog.
func (d *Deployment) Catalog() *release.Catalog { return d.catalog }

// Releases returns the declared release keys in manifest order.
func (d *Deployment) Releases() []deployplan.ReleaseKey { return d.catalog.Releases() }

// Properties returns the deployment-wide property tree.
func (d *Deployment) Properties() map[string]any { return d.properties }

// UpdateDefaults returns the deployment-wide update settings.
func (d *Deployment) UpdateDefaults() map[string]any { return d.update }

// ResourcePool looks up a resource pool by name.
func (d *Deployment) ResourcePool(name string) (*deployplan.ResourcePool, bool) {
	p, ok := d.pools[name]
	return p, ok
}

// DiskPool looks up a disk pool by name.
func (d *Deployment) DiskPool(name string) (*deployplan.DiskPool, bool) {
	p, ok := d.disks[name]
	return p, ok
}

// HasNetwork reports whether name is a declared network.
func (d *Deployment) HasNetwork(name string) bool {
	_, ok := d.networks[name]
	return ok
}

// Network resolves a declared network for reservation.
func (d *Deployment) Network(name string) (deployplan.Network, error) {
	n, ok := d.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return n, nil
}

func (d *Deployment) allocator(pool string) *instance.Allocator {
	return d.allocators[pool]
}
