// Package release holds the releases a deployment manifest declares: their
// job templates and compiled packages.
package release

import (
	"errors"
	"fmt"
	"sort"

	"github.com/3leaps/fleetplan/pkg/deployplan"
	"github.com/3leaps/fleetplan/pkg/manifest"
)

var (
	// ErrReleaseNotFound indicates a job references an undeclared release.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrTemplateNotFound indicates a release does not ship a template.
	ErrTemplateNotFound = errors.New("template not found in release")

	// ErrPackageNotFound indicates a template or package depends on a
	// package its release does not ship.
	ErrPackageNotFound = errors.New("package not found in release")

	// ErrDuplicateRelease indicates a release name is declared twice.
	ErrDuplicateRelease = errors.New("duplicate release")
)

// Package is a compiled package shipped by a release.
type Package struct {
	PackageName  string
	Version      string
	SHA1         string
	BlobstoreID  string
	Dependencies []string
}

// Name returns the package name.
func (p *Package) Name() string {
	return p.PackageName
}

// Spec renders the package entry delivered to agents.
func (p *Package) Spec() map[string]any {
	return map[string]any{
		"name":         p.PackageName,
		"version":      p.Version,
		"sha1":         p.SHA1,
		"blobstore_id": p.BlobstoreID,
	}
}

// Release is one declared release version.
type Release struct {
	Key deployplan.ReleaseKey

	templates map[string]*deployplan.TemplateModel
	packages  map[string]*Package
}

// TemplateNames returns the shipped template names in sorted order.
func (r *Release) TemplateNames() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog indexes releases by name.
type Catalog struct {
	releases map[string]*Release
	order    []string
}

// NewCatalog builds a catalog from manifest release declarations.
func NewCatalog(configs []manifest.ReleaseConfig) (*Catalog, error) {
	c := &Catalog{releases: make(map[string]*Release, len(configs))}
	for _, cfg := range configs {
		if _, dup := c.releases[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRelease, cfg.Name)
		}
		rel := &Release{
			Key:       deployplan.ReleaseKey{Name: cfg.Name, Version: cfg.Version},
			templates: make(map[string]*deployplan.TemplateModel, len(cfg.Jobs)),
			packages:  make(map[string]*Package, len(cfg.Packages)),
		}
		for _, job := range cfg.Jobs {
			rel.templates[job.Name] = templateModel(job)
		}
		for _, pkg := range cfg.Packages {
			rel.packages[pkg.Name] = &Package{
				PackageName:  pkg.Name,
				Version:      pkg.Version,
				SHA1:         pkg.SHA1,
				BlobstoreID:  pkg.BlobstoreID,
				Dependencies: append([]string(nil), pkg.Dependencies...),
			}
		}
		c.releases[cfg.Name] = rel
		c.order = append(c.order, cfg.Name)
	}
	return c, nil
}

func templateModel(cfg manifest.ReleaseJobConfig) *deployplan.TemplateModel {
	model := &deployplan.TemplateModel{
		Version:      cfg.Version,
		SHA1:         cfg.SHA1,
		BlobstoreID:  cfg.BlobstoreID,
		Logs:         append([]string(nil), cfg.Logs...),
		PackageNames: append([]string(nil), cfg.Packages...),
	}
	if cfg.Properties != nil {
		model.Properties = make(map[string]deployplan.PropertyDefinition, len(cfg.Properties))
		for name, def := range cfg.Properties {
			model.Properties[name] = deployplan.PropertyDefinition{
				Description: def.Description,
				Default:     def.Default,
			}
		}
	}
	return model
}

// Release returns the release declared under name.
func (c *Catalog) Release(name string) (*Release, error) {
	rel, ok := c.releases[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, name)
	}
	return rel, nil
}

// Releases returns the declared release keys in manifest order.
func (c *Catalog) Releases() []deployplan.ReleaseKey {
	out := make([]deployplan.ReleaseKey, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.releases[name].Key)
	}
	return out
}

func (c *Catalog) lookup(key deployplan.ReleaseKey) (*Release, error) {
	rel, err := c.Release(key.Name)
	if err != nil {
		return nil, err
	}
	if key.Version != "" && rel.Key.Version != key.Version {
		return nil, fmt.Errorf("%w: %s (declared version is %s)", ErrReleaseNotFound, key, rel.Key.Version)
	}
	return rel, nil
}

// TemplateModel returns the backing model for a template of a release.
func (c *Catalog) TemplateModel(key deployplan.ReleaseKey, name string) (*deployplan.TemplateModel, error) {
	rel, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	model, ok := rel.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrTemplateNotFound, name, key)
	}
	return model, nil
}

// CompiledPackages resolves names and their transitive dependencies within a
// release. The result lists packages in first-seen depth-first order.
func (c *Catalog) CompiledPackages(key deployplan.ReleaseKey, names []string) ([]deployplan.CompiledPackageModel, error) {
	rel, err := c.lookup(key)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []deployplan.CompiledPackageModel
	var visit func(name, from string) error
	visit = func(name, from string) error {
		if seen[name] {
			return nil
		}
		pkg, ok := rel.packages[name]
		if !ok {
			return fmt.Errorf("%w: %s in %s (required by %s)", ErrPackageNotFound, name, key, from)
		}
		seen[name] = true
		out = append(out, pkg)
		for _, dep := range pkg.Dependencies {
			if err := visit(dep, name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range names {
		if err := visit(name, "template"); err != nil {
			return nil, err
		}
	}
	return out, nil
}
