// Package deployplan binds a single deployment job to its release templates,
// compiled packages, properties, instances and network reservations.
//
// A Job is constructed empty by the planner, filled while the manifest is
// parsed, checked for internal consistency (package collisions, property
// schema styles), and then exposes read-only spec projections that are sent
// to the node agent on every instance.
//
// Binding is single-threaded per job. Collaborators that perform I/O
// (networks, VM allocation, the instance database) are supplied as
// interfaces and own their own locking.
package deployplan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DeploymentKey identifies the deployment owning a job. It is resolved
// through a DeploymentRegistry rather than held as a pointer.
type DeploymentKey string

// ResourcePool is the VM template instances of a job are allocated from.
type ResourcePool struct {
	Name            string
	Size            int
	Stemcell        string
	Network         string
	CloudProperties map[string]any
}

// DiskPool describes persistent disks attached to instances.
type DiskPool struct {
	Name            string
	DiskSize        int
	CloudProperties map[string]any
}

// UpdateConfig controls how the instance-update pipeline rolls a job.
type UpdateConfig struct {
	Canaries        int           `mapstructure:"canaries"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`
	CanaryWatchTime time.Duration `mapstructure:"canary_watch_time"`
	UpdateWatchTime time.Duration `mapstructure:"update_watch_time"`
	Serial          *bool         `mapstructure:"serial"`
}

// Default network roles.
const (
	NetworkRoleDNS     = "dns"
	NetworkRoleGateway = "gateway"
)

// JobNetwork is a job's attachment to a deployment network.
type JobNetwork struct {
	Name string

	// StaticIPs, when set, holds one address per instance index.
	StaticIPs []string

	// Default lists the roles (dns, gateway) this network provides.
	Default []string
}

// StaticIP returns the static address for index, or "" when the network is
// dynamic for that instance.
func (n JobNetwork) StaticIP(index int) string {
	if index < 0 || index >= len(n.StaticIPs) {
		return ""
	}
	return n.StaticIPs[index]
}

// Job is the aggregate root for one deployment job.
type Job struct {
	Name          string
	CanonicalName string
	Lifecycle     Lifecycle
	State         JobState

	// InstanceStates overrides State for individual instance indices.
	InstanceStates map[int]JobState

	Deployment DeploymentKey
	Release    ReleaseKey

	ResourcePool       *ResourcePool
	PersistentDiskPool *DiskPool

	Networks []JobNetwork

	// DefaultNetwork maps a network role (dns, gateway) to a network name.
	DefaultNetwork map[string]string

	Update UpdateConfig

	Templates []*Template

	// InstanceCount is the number of instances the manifest asks for.
	InstanceCount int

	Instances         []Instance
	UnneededInstances []Instance

	// AllProperties is the deployment-wide property tree.
	AllProperties map[string]any

	packages   map[string]*CompiledPackage
	properties map[string]any
	logger     *zap.Logger
}

// NewJob returns an empty job with service lifecycle and started state.
func NewJob(deployment DeploymentKey, name string) *Job {
	return &Job{
		Name:           name,
		CanonicalName:  Canonical(name),
		Lifecycle:      LifecycleService,
		State:          JobStateStarted,
		InstanceStates: make(map[int]JobState),
		Deployment:     deployment,
		DefaultNetwork: make(map[string]string),
		AllProperties:  make(map[string]any),
		packages:       make(map[string]*CompiledPackage),
		logger:         zap.NewNop(),
	}
}

// SetLogger replaces the job's logger. A nil logger disables logging.
func (j *Job) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	j.logger = logger.With(zap.String("job", j.Name))
}

// AddTemplate appends a template. Order is significant: the first template
// supplies the legacy single-template spec fields.
func (j *Job) AddTemplate(t *Template) {
	j.Templates = append(j.Templates, t)
}

// SetInstanceState overrides the state of one instance.
func (j *Job) SetInstanceState(index int, state JobState) error {
	if !state.Valid() {
		return fmt.Errorf("job %s instance %d: %w: %q", j.Name, index, ErrInvalidJobState, state)
	}
	if j.InstanceStates == nil {
		j.InstanceStates = make(map[int]JobState)
	}
	j.InstanceStates[index] = state
	return nil
}

// InstanceState returns the override for index, else the job state.
func (j *Job) InstanceState(index int) JobState {
	if s, ok := j.InstanceStates[index]; ok {
		return s
	}
	return j.State
}

// RegisterCompiledPackage adds a compiled package to the job, replacing any
// package already registered under the same name.
func (j *Job) RegisterCompiledPackage(model CompiledPackageModel) (*CompiledPackage, error) {
	if model == nil || strings.TrimSpace(model.Name()) == "" {
		return nil, fmt.Errorf("job %s: %w", j.Name, ErrInvalidPackage)
	}
	pkg := &CompiledPackage{model: model}
	if j.packages == nil {
		j.packages = make(map[string]*CompiledPackage)
	}
	j.packages[model.Name()] = pkg
	return pkg, nil
}

// Packages returns the registered packages sorted by name.
func (j *Job) Packages() []*CompiledPackage {
	out := make([]*CompiledPackage, 0, len(j.packages))
	for _, p := range j.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name() < out[b].Name() })
	return out
}

// TemplateSpec is one entry of the job spec's templates list.
type TemplateSpec struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	SHA1        string   `json:"sha1"`
	BlobstoreID string   `json:"blobstore_id"`
	Logs        []string `json:"logs,omitempty"`
}

// JobSpec is the wire form of a job sent to each instance's agent.
//
// Template, Version, SHA1, BlobstoreID and Logs mirror the first template for
// agents that only understand the single-template format.
type JobSpec struct {
	Name        string         `json:"name"`
	Templates   []TemplateSpec `json:"templates"`
	Template    string         `json:"template"`
	Version     string         `json:"version"`
	SHA1        string         `json:"sha1"`
	BlobstoreID string         `json:"blobstore_id"`
	Logs        []string       `json:"logs,omitempty"`
}

// AsMap renders the spec as a generic mapping, the shape agents report back.
func (s JobSpec) AsMap() map[string]any {
	templates := make([]any, 0, len(s.Templates))
	for _, t := range s.Templates {
		templates = append(templates, t.asMap())
	}
	out := map[string]any{
		"name":         s.Name,
		"templates":    templates,
		"template":     s.Template,
		"version":      s.Version,
		"sha1":         s.SHA1,
		"blobstore_id": s.BlobstoreID,
	}
	if len(s.Logs) > 0 {
		out["logs"] = append([]string(nil), s.Logs...)
	}
	return out
}

func (t TemplateSpec) asMap() map[string]any {
	m := map[string]any{
		"name":         t.Name,
		"version":      t.Version,
		"sha1":         t.SHA1,
		"blobstore_id": t.BlobstoreID,
	}
	if len(t.Logs) > 0 {
		m["logs"] = append([]string(nil), t.Logs...)
	}
	return m
}

// Spec builds the canonical job spec from the bound templates.
func (j *Job) Spec() (JobSpec, error) {
	if len(j.Templates) == 0 {
		return JobSpec{}, fmt.Errorf("job %s spec: %w", j.Name, ErrNoTemplates)
	}

	entries := make([]TemplateSpec, 0, len(j.Templates))
	for _, t := range j.Templates {
		m, err := t.Model()
		if err != nil {
			return JobSpec{}, fmt.Errorf("job %s spec: %w", j.Name, err)
		}
		entry := TemplateSpec{
			Name:        t.Name,
			Version:     m.Version,
			SHA1:        m.SHA1,
			BlobstoreID: m.BlobstoreID,
		}
		if len(m.Logs) > 0 {
			entry.Logs = append([]string(nil), m.Logs...)
		}
		entries = append(entries, entry)
	}

	first := entries[0]
	return JobSpec{
		Name:        j.Name,
		Templates:   entries,
		Template:    first.Name,
		Version:     first.Version,
		SHA1:        first.SHA1,
		BlobstoreID: first.BlobstoreID,
		Logs:        first.Logs,
	}, nil
}

// PackageSpec returns the spec of every registered package that a bound
// template depends on. Registered packages no template needs are left out.
func (j *Job) PackageSpec() (map[string]map[string]any, error) {
	names, err := j.runtimePackageNames()
	if err != nil {
		return nil, fmt.Errorf("job %s package spec: %w", j.Name, err)
	}

	out := make(map[string]map[string]any, len(names))
	for _, name := range names {
		pkg, ok := j.packages[name]
		if !ok {
			continue
		}
		out[name] = pkg.Spec()
	}
	return out, nil
}

// runtimePackageNames is the de-duplicated union of package names declared
// by the job's templates, in first-seen order.
func (j *Job) runtimePackageNames() ([]string, error) {
	if len(j.Templates) == 0 {
		return nil, ErrNoTemplates
	}
	seen := make(map[string]struct{})
	var names []string
	for _, t := range j.Templates {
		m, err := t.Model()
		if err != nil {
			return nil, err
		}
		for _, name := range m.PackageNames {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}
