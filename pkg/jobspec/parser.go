// Package jobspec parses the job entries of a deployment manifest into
// deployplan jobs.
//
// The parser resolves names against the deployment (releases, resource
// pools, disk pools, networks) and fills the job's configuration. Template
// models, packages and instances are bound later by the planner.
package jobspec

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/pkg/deployplan"
)

// ErrInvalidJobSpec is wrapped by every parse failure.
var ErrInvalidJobSpec = errors.New("invalid job spec")

// SpecError reports which field of which job failed to parse.
type SpecError struct {
	Job   string
	Field string
	Err   error
}

func (e *SpecError) Error() string {
	job := e.Job
	if job == "" {
		job = "<unnamed>"
	}
	return fmt.Sprintf("job %s: %s: %v", job, e.Field, e.Err)
}

func (e *SpecError) Unwrap() []error {
	return []error{ErrInvalidJobSpec, e.Err}
}

func specErr(job, field, format string, args ...any) error {
	return &SpecError{Job: job, Field: field, Err: fmt.Errorf(format, args...)}
}

// Deployment is what the parser needs to know about the enclosing
// deployment.
type Deployment interface {
	Name() string
	Releases() []deployplan.ReleaseKey
	ResourcePool(name string) (*deployplan.ResourcePool, bool)
	DiskPool(name string) (*deployplan.DiskPool, bool)
	HasNetwork(name string) bool
	Properties() map[string]any
	UpdateDefaults() map[string]any
}

// IDGenerator returns a fresh identifier. It names disk pools synthesized
// from the legacy persistent_disk size.
type IDGenerator func() string

type options struct {
	ids    IDGenerator
	logger *zap.Logger
}

// Option configures ParseJob.
type Option func(*options)

// WithIDGenerator replaces the default uuid generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithLogger sets the logger handed to the parsed job.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type rawTemplate struct {
	Name    string `mapstructure:"name"`
	Release string `mapstructure:"release"`
}

type rawNetwork struct {
	Name      string   `mapstructure:"name"`
	StaticIPs []string `mapstructure:"static_ips"`
	Default   []string `mapstructure:"default"`
}

type rawJob struct {
	Name               string            `mapstructure:"name"`
	Lifecycle          string            `mapstructure:"lifecycle"`
	Release            string            `mapstructure:"release"`
	Template           any               `mapstructure:"template"`
	Templates          []rawTemplate     `mapstructure:"templates"`
	PersistentDisk     *int              `mapstructure:"persistent_disk"`
	PersistentDiskPool string            `mapstructure:"persistent_disk_pool"`
	Properties         map[string]any    `mapstructure:"properties"`
	ResourcePool       string            `mapstructure:"resource_pool"`
	Instances          *int              `mapstructure:"instances"`
	Networks           []rawNetwork      `mapstructure:"networks"`
	Update             map[string]any    `mapstructure:"update"`
	State              string            `mapstructure:"state"`
	InstanceStates     map[string]string `mapstructure:"instance_states"`
}

// ParseJob builds a job from one manifest job mapping.
func ParseJob(deployment Deployment, spec map[string]any, opts ...Option) (*deployplan.Job, error) {
	o := options{ids: uuid.NewString, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var raw rawJob
	var meta mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Metadata:         &meta,
		Result:           &raw,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(spec); err != nil {
		name, _ := spec["name"].(string)
		return nil, specErr(name, "spec", "%v", err)
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, specErr("", "name", "is required")
	}

	job := deployplan.NewJob(deployplan.DeploymentKey(deployment.Name()), name)
	job.SetLogger(o.logger)
	if len(meta.Unused) > 0 {
		sort.Strings(meta.Unused)
		o.logger.Debug("Ignoring unknown job keys", zap.String("job", name), zap.Strings("keys", meta.Unused))
	}

	steps := []func(*deployplan.Job, Deployment, *rawJob, options) error{
		parseLifecycle,
		parseTemplates,
		parseDisks,
		parseProperties,
		parseResourcePool,
		parseInstances,
		parseNetworks,
		parseUpdate,
		parseStates,
	}
	for _, step := range steps {
		if err := step(job, deployment, &raw, o); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func parseLifecycle(job *deployplan.Job, _ Deployment, raw *rawJob, _ options) error {
	lifecycle, err := deployplan.ParseLifecycle(raw.Lifecycle)
	if err != nil {
		return specErr(job.Name, "lifecycle", "%w", err)
	}
	job.Lifecycle = lifecycle
	return nil
}

func findRelease(d Deployment, name string) (deployplan.ReleaseKey, bool) {
	for _, key := range d.Releases() {
		if key.Name == name {
			return key, true
		}
	}
	return deployplan.ReleaseKey{}, false
}

func parseTemplates(job *deployplan.Job, d Deployment, raw *rawJob, _ options) error {
	if raw.Release != "" {
		key, ok := findRelease(d, raw.Release)
		if !ok {
			return specErr(job.Name, "release", "references unknown release %q", raw.Release)
		}
		job.Release = key
	} else if releases := d.Releases(); len(releases) == 1 {
		job.Release = releases[0]
	}

	if raw.Template != nil && len(raw.Templates) > 0 {
		return specErr(job.Name, "template", "template and templates are mutually exclusive")
	}

	if raw.Template != nil {
		names, err := templateNames(raw.Template)
		if err != nil {
			return specErr(job.Name, "template", "%v", err)
		}
		if job.Release.Name == "" {
			return specErr(job.Name, "release", "is required when the deployment has more than one release")
		}
		for _, n := range names {
			job.AddTemplate(deployplan.NewTemplate(n, job.Release))
		}
		return nil
	}

	if len(raw.Templates) == 0 {
		return specErr(job.Name, "templates", "at least one template is required")
	}
	for i, t := range raw.Templates {
		if strings.TrimSpace(t.Name) == "" {
			return specErr(job.Name, fmt.Sprintf("templates[%d].name", i), "is required")
		}
		key := job.Release
		if t.Release != "" {
			var ok bool
			if key, ok = findRelease(d, t.Release); !ok {
				return specErr(job.Name, fmt.Sprintf("templates[%d].release", i), "references unknown release %q", t.Release)
			}
		}
		if key.Name == "" {
			return specErr(job.Name, fmt.Sprintf("templates[%d].release", i), "is required when the deployment has more than one release")
		}
		job.AddTemplate(deployplan.NewTemplate(t.Name, key))
	}
	if job.Release.Name == "" {
		job.Release = job.Templates[0].Release
	}
	return nil
}

func templateNames(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, errors.New("must not be empty")
		}
		return []string{t}, nil
	case []any:
		if len(t) == 0 {
			return nil, errors.New("must not be empty")
		}
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, fmt.Errorf("entries must be non-empty strings, got %v", item)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return templateNames(toAnySlice(t))
	default:
		return nil, fmt.Errorf("must be a string or a list of strings, got %T", v)
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func parseDisks(job *deployplan.Job, d Deployment, raw *rawJob, o options) error {
	if raw.PersistentDisk != nil && raw.PersistentDiskPool != "" {
		return specErr(job.Name, "persistent_disk", "persistent_disk and persistent_disk_pool are mutually exclusive")
	}

	if raw.PersistentDisk != nil {
		size := *raw.PersistentDisk
		if size < 0 {
			return specErr(job.Name, "persistent_disk", "must be >= 0, got %d", size)
		}
		if size > 0 {
			job.PersistentDiskPool = &deployplan.DiskPool{Name: o.ids(), DiskSize: size}
		}
		return nil
	}

	if raw.PersistentDiskPool != "" {
		pool, ok := d.DiskPool(raw.PersistentDiskPool)
		if !ok {
			return specErr(job.Name, "persistent_disk_pool", "references unknown disk pool %q", raw.PersistentDiskPool)
		}
		job.PersistentDiskPool = pool
	}
	return nil
}

func parseProperties(job *deployplan.Job, d Deployment, raw *rawJob, _ options) error {
	job.AllProperties = mergeProperties(d.Properties(), raw.Properties)
	return nil
}

func parseResourcePool(job *deployplan.Job, d Deployment, raw *rawJob, _ options) error {
	if raw.ResourcePool == "" {
		return specErr(job.Name, "resource_pool", "is required")
	}
	pool, ok := d.ResourcePool(raw.ResourcePool)
	if !ok {
		return specErr(job.Name, "resource_pool", "references unknown resource pool %q", raw.ResourcePool)
	}
	job.ResourcePool = pool
	return nil
}

func parseInstances(job *deployplan.Job, _ Deployment, raw *rawJob, _ options) error {
	if raw.Instances == nil {
		return specErr(job.Name, "instances", "is required")
	}
	if *raw.Instances < 0 {
		return specErr(job.Name, "instances", "must be >= 0, got %d", *raw.Instances)
	}
	job.InstanceCount = *raw.Instances
	return nil
}

func parseNetworks(job *deployplan.Job, d Deployment, raw *rawJob, _ options) error {
	if len(raw.Networks) == 0 {
		return specErr(job.Name, "networks", "at least one network is required")
	}

	seen := make(map[string]bool, len(raw.Networks))
	for i, n := range raw.Networks {
		field := fmt.Sprintf("networks[%d]", i)
		if n.Name == "" {
			return specErr(job.Name, field+".name", "is required")
		}
		if !d.HasNetwork(n.Name) {
			return specErr(job.Name, field+".name", "references unknown network %q", n.Name)
		}
		if seen[n.Name] {
			return specErr(job.Name, field+".name", "network %q is listed twice", n.Name)
		}
		seen[n.Name] = true

		if len(n.StaticIPs) > 0 && len(n.StaticIPs) != job.InstanceCount {
			return specErr(job.Name, field+".static_ips", "has %d addresses for %d instances", len(n.StaticIPs), job.InstanceCount)
		}
		for _, role := range n.Default {
			if role != deployplan.NetworkRoleDNS && role != deployplan.NetworkRoleGateway {
				return specErr(job.Name, field+".default", "unknown role %q", role)
			}
			if owner, taken := job.DefaultNetwork[role]; taken {
				return specErr(job.Name, field+".default", "role %q is already provided by network %q", role, owner)
			}
			job.DefaultNetwork[role] = n.Name
		}
		job.Networks = append(job.Networks, deployplan.JobNetwork{
			Name:      n.Name,
			StaticIPs: append([]string(nil), n.StaticIPs...),
			Default:   append([]string(nil), n.Default...),
		})
	}

	for _, role := range []string{deployplan.NetworkRoleDNS, deployplan.NetworkRoleGateway} {
		if _, ok := job.DefaultNetwork[role]; ok {
			continue
		}
		if len(job.Networks) > 1 {
			return specErr(job.Name, "networks", "more than one network is configured and none provides the %s role", role)
		}
		job.DefaultNetwork[role] = job.Networks[0].Name
	}
	return nil
}

func parseUpdate(job *deployplan.Job, d Deployment, raw *rawJob, _ options) error {
	merged := make(map[string]any)
	for k, v := range d.UpdateDefaults() {
		merged[k] = v
	}
	for k, v := range raw.Update {
		merged[k] = v
	}

	var update deployplan.UpdateConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			millisecondsHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		Result: &update,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(merged); err != nil {
		return specErr(job.Name, "update", "%v", err)
	}
	if update.MaxInFlight == 0 {
		update.MaxInFlight = 1
	}
	if update.Canaries < 0 || update.MaxInFlight < 0 {
		return specErr(job.Name, "update", "canaries and max_in_flight must not be negative")
	}
	job.Update = update
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// millisecondsHook reads bare numbers (and numeric strings) as milliseconds.
func millisecondsHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case uint64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
	}
	return data, nil
}

func parseStates(job *deployplan.Job, _ Deployment, raw *rawJob, _ options) error {
	if raw.State != "" {
		state, err := deployplan.ParseJobState(raw.State)
		if err != nil {
			return specErr(job.Name, "state", "%w", err)
		}
		job.State = state
	}

	for key, value := range raw.InstanceStates {
		index, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return specErr(job.Name, "instance_states", "index %q is not an integer", key)
		}
		if index < 0 || index >= job.InstanceCount {
			return specErr(job.Name, "instance_states", "index %d is outside 0..%d", index, job.InstanceCount-1)
		}
		state, err := deployplan.ParseJobState(value)
		if err != nil {
			return specErr(job.Name, "instance_states", "%w", err)
		}
		if err := job.SetInstanceState(index, state); err != nil {
			return specErr(job.Name, "instance_states", "%w", err)
		}
	}
	return nil
}
