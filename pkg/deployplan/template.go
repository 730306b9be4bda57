package deployplan

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// ReleaseKey identifies a release version. Jobs and templates hold it as a
// non-owning handle.
type ReleaseKey struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String renders the key as name/version.
func (k ReleaseKey) String() string {
	if k.Version == "" {
		return k.Name
	}
	return k.Name + "/" + k.Version
}

// PropertyDefinition is one entry of a template's property schema.
type PropertyDefinition struct {
	Description string `json:"description,omitempty" mapstructure:"description"`
	Default     any    `json:"default,omitempty" mapstructure:"default"`
}

// TemplateModel is the persisted release-version record a template is bound
// to.
type TemplateModel struct {
	Version     string
	SHA1        string
	BlobstoreID string

	// Logs are glob patterns for log files the template writes.
	Logs []string

	// PackageNames are the packages the template needs at runtime.
	PackageNames []string

	// Properties is the declared property schema, keyed by dotted path.
	// Nil means the release version predates property schemas.
	Properties map[string]PropertyDefinition
}

// Template references one release template used by a job.
type Template struct {
	Name    string
	Release ReleaseKey

	model *TemplateModel
}

// NewTemplate returns an unbound template reference.
func NewTemplate(name string, release ReleaseKey) *Template {
	return &Template{Name: name, Release: release}
}

// BindModel attaches the backing model. Log patterns must be valid globs.
func (t *Template) BindModel(model *TemplateModel) error {
	if model == nil {
		return fmt.Errorf("bind template %s: %w", t.Name, ErrTemplateNotBound)
	}
	for _, pattern := range model.Logs {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("template %s: invalid log pattern %q", t.Name, pattern)
		}
	}
	t.model = model
	return nil
}

// Bound reports whether BindModel has succeeded.
func (t *Template) Bound() bool {
	return t.model != nil
}

// Model returns the backing model or ErrTemplateNotBound.
func (t *Template) Model() (*TemplateModel, error) {
	if t.model == nil {
		return nil, fmt.Errorf("template %s: %w", t.Name, ErrTemplateNotBound)
	}
	return t.model, nil
}

// DeclaresProperties reports whether the bound model has a property schema.
func (t *Template) DeclaresProperties() bool {
	return t.model != nil && t.model.Properties != nil
}

// CompiledPackageModel is the stored record of a compiled release package.
type CompiledPackageModel interface {
	Name() string
	Spec() map[string]any
}

// CompiledPackage is the per-job wrapper over a compiled package record.
type CompiledPackage struct {
	model CompiledPackageModel
}

// Name returns the package name.
func (p *CompiledPackage) Name() string {
	return p.model.Name()
}

// Spec returns the package metadata delivered to agents.
func (p *CompiledPackage) Spec() map[string]any {
	return p.model.Spec()
}
