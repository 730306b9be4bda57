// Package planner turns a deployment manifest into a bound deployment plan.
//
// Build parses every job, binds its templates to release models, registers
// compiled packages, checks package collisions, resolves properties, creates
// instances and binds their VMs and network reservations. Job failures are
// collected so one run reports every broken job.
package planner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/pkg/deployplan"
	"github.com/3leaps/fleetplan/pkg/instance"
	"github.com/3leaps/fleetplan/pkg/instancestore"
	"github.com/3leaps/fleetplan/pkg/jobspec"
	"github.com/3leaps/fleetplan/pkg/manifest"
)

// Options configures Build.
type Options struct {
	// DB is the instance store. Nil plans without persisting instance state.
	// Writes are made in one transaction committed only when every job binds.
	DB *sql.DB

	Logger *zap.Logger

	// IDGenerator names disk pools synthesized from legacy disk sizes.
	IDGenerator jobspec.IDGenerator
}

// Plan is a bound deployment.
type Plan struct {
	Jobs []*deployplan.Job

	deployment *Deployment
	instances  map[string][]*instance.Instance
}

// Name returns the deployment name.
func (p *Plan) Name() string {
	return p.deployment.Name()
}

// Deployment resolves key to the planned deployment.
func (p *Plan) Deployment(key deployplan.DeploymentKey) (deployplan.Deployment, error) {
	if string(key) != p.deployment.Name() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeployment, key)
	}
	return p.deployment, nil
}

// Job returns the planned job with name, or nil.
func (p *Plan) Job(name string) *deployplan.Job {
	for _, j := range p.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// Instances returns the concrete instances of a job.
func (p *Plan) Instances(job string) []*instance.Instance {
	return p.instances[job]
}

// Build plans every job of m. The returned error joins all job failures.
func Build(ctx context.Context, m *manifest.Manifest, opts Options) (*Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("deployment", m.Name))

	d, err := newDeployment(m, logger)
	if err != nil {
		return nil, fmt.Errorf("deployment %s: %w", m.Name, err)
	}
	plan := &Plan{deployment: d, instances: make(map[string][]*instance.Instance)}
	commit := func() error { return nil }

	parseOpts := []jobspec.Option{jobspec.WithLogger(logger)}
	if opts.IDGenerator != nil {
		parseOpts = append(parseOpts, jobspec.WithIDGenerator(opts.IDGenerator))
	}

	var store instancestore.DBTX
	if opts.DB != nil {
		tx, err := opts.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin instance store transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		store = tx
		commit = tx.Commit
	}

	var errs []error
	seen := make(map[string]bool, len(m.Jobs))
	for _, raw := range m.Jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := jobspec.ParseJob(d, raw, parseOpts...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[job.CanonicalName] {
			errs = append(errs, fmt.Errorf("job %s: %w: canonical name %s", job.Name, ErrDuplicateName, job.CanonicalName))
			continue
		}
		seen[job.CanonicalName] = true

		if err := plan.bindJob(ctx, job, store, logger); err != nil {
			errs = append(errs, err)
			continue
		}
		plan.Jobs = append(plan.Jobs, job)
		logger.Info("Planned job",
			zap.String("job", job.Name),
			zap.Int("templates", len(job.Templates)),
			zap.Int("instances", len(job.Instances)))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := commit(); err != nil {
		return nil, fmt.Errorf("commit instance state: %w", err)
	}
	return plan, nil
}

func (p *Plan) bindJob(ctx context.Context, job *deployplan.Job, db instancestore.DBTX, logger *zap.Logger) error {
	catalog := p.deployment.Catalog()

	for _, t := range job.Templates {
		model, err := catalog.TemplateModel(t.Release, t.Name)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		if err := t.BindModel(model); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}

	if err := job.ValidatePackageNamesDoNotCollide(); err != nil {
		return err
	}

	for _, t := range job.Templates {
		model, err := t.Model()
		if err != nil {
			return err
		}
		pkgs, err := catalog.CompiledPackages(t.Release, model.PackageNames)
		if err != nil {
			return fmt.Errorf("job %s template %s: %w", job.Name, t.Name, err)
		}
		for _, pkg := range pkgs {
			if _, err := job.RegisterCompiledPackage(pkg); err != nil {
				return err
			}
		}
	}

	if err := job.BindProperties(); err != nil {
		return err
	}

	allocator := p.deployment.allocator(job.ResourcePool.Name)
	instances := make([]*instance.Instance, 0, job.InstanceCount)
	for index := range job.InstanceCount {
		inst := instance.New(job, index, allocator, db, logger)
		for _, n := range job.Networks {
			r := &deployplan.NetworkReservation{Network: n.Name, Type: deployplan.ReservationDynamic}
			if ip := n.StaticIP(index); ip != "" {
				r.Type = deployplan.ReservationStatic
				r.IP = ip
			}
			inst.AddNetworkReservation(r)
		}
		instances = append(instances, inst)
		job.Instances = append(job.Instances, inst)
	}
	p.instances[job.Name] = instances

	if err := job.BindUnallocatedVMs(ctx); err != nil {
		return err
	}
	return job.BindInstanceNetworks(ctx, p)
}
