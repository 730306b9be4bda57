// Package manifest provides loading and validation of deployment manifests.
//
// A deployment manifest is a YAML or JSON file describing the releases a
// deployment uses, the networks, resource pools and disk pools it draws on,
// deployment-wide properties, and the jobs to plan.
//
// Manifests are validated against an embedded JSON Schema before they are
// decoded. Job entries are kept as raw mappings; the job spec parser owns
// their interpretation.
//
// Example manifest (YAML):
//
//	name: cf
//	releases:
//	  - name: appcloud
//	    version: "42"
//	    jobs:
//	      - name: nats
//	        version: "3"
//	        sha1: 0f3c...
//	        blobstore_id: 7a1e...
//	        packages: [nats]
//	    packages:
//	      - name: nats
//	        version: "1.2"
//	networks:
//	  - name: default
//	    subnets:
//	      - range: 10.0.0.0/24
//	        gateway: 10.0.0.1
//	resource_pools:
//	  - name: small
//	    size: 4
//	    network: default
//	jobs:
//	  - name: nats
//	    template: nats
//	    instances: 1
//	    resource_pool: small
//	    networks:
//	      - name: default
package manifest

// Manifest represents a validated deployment manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Name is the deployment name.
	Name string `json:"name" yaml:"name"`

	Releases      []ReleaseConfig      `json:"releases" yaml:"releases"`
	Networks      []NetworkConfig      `json:"networks,omitempty" yaml:"networks,omitempty"`
	ResourcePools []ResourcePoolConfig `json:"resource_pools,omitempty" yaml:"resource_pools,omitempty"`
	DiskPools     []DiskPoolConfig     `json:"disk_pools,omitempty" yaml:"disk_pools,omitempty"`

	// Update holds deployment-wide update defaults (canaries, max_in_flight,
	// canary_watch_time, update_watch_time, serial). Jobs may override them.
	Update map[string]any `json:"update,omitempty" yaml:"update,omitempty"`

	// Properties is the deployment-wide property tree.
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Jobs are raw job mappings handed to the job spec parser.
	Jobs []map[string]any `json:"jobs" yaml:"jobs"`
}

// ReleaseConfig declares one release version and what it provides.
type ReleaseConfig struct {
	Name     string                 `json:"name" yaml:"name"`
	Version  string                 `json:"version" yaml:"version"`
	Jobs     []ReleaseJobConfig     `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Packages []ReleasePackageConfig `json:"packages,omitempty" yaml:"packages,omitempty"`
}

// ReleaseJobConfig is a job template shipped by a release.
type ReleaseJobConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	SHA1        string   `json:"sha1,omitempty" yaml:"sha1,omitempty"`
	BlobstoreID string   `json:"blobstore_id,omitempty" yaml:"blobstore_id,omitempty"`
	Logs        []string `json:"logs,omitempty" yaml:"logs,omitempty"`
	Packages    []string `json:"packages,omitempty" yaml:"packages,omitempty"`

	// Properties is the template's property schema. Nil (key absent) means
	// the template predates property schemas; an empty mapping declares none.
	Properties map[string]PropertyConfig `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// PropertyConfig is one property definition in a template schema.
type PropertyConfig struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// ReleasePackageConfig is a compiled package shipped by a release.
type ReleasePackageConfig struct {
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	SHA1         string   `json:"sha1,omitempty" yaml:"sha1,omitempty"`
	BlobstoreID  string   `json:"blobstore_id,omitempty" yaml:"blobstore_id,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// NetworkConfig declares a manual network.
type NetworkConfig struct {
	Name    string         `json:"name" yaml:"name"`
	Subnets []SubnetConfig `json:"subnets" yaml:"subnets"`
}

// SubnetConfig is one subnet of a manual network.
//
// Reserved and Static entries are single addresses or "a - b" ranges.
type SubnetConfig struct {
	Range    string   `json:"range" yaml:"range"`
	Gateway  string   `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	DNS      []string `json:"dns,omitempty" yaml:"dns,omitempty"`
	Reserved []string `json:"reserved,omitempty" yaml:"reserved,omitempty"`
	Static   []string `json:"static,omitempty" yaml:"static,omitempty"`
}

// ResourcePoolConfig declares a pool of identically shaped VMs.
type ResourcePoolConfig struct {
	Name            string         `json:"name" yaml:"name"`
	Size            int            `json:"size" yaml:"size"`
	Stemcell        string         `json:"stemcell,omitempty" yaml:"stemcell,omitempty"`
	Network         string         `json:"network,omitempty" yaml:"network,omitempty"`
	CloudProperties map[string]any `json:"cloud_properties,omitempty" yaml:"cloud_properties,omitempty"`
}

// DiskPoolConfig declares a named persistent disk shape.
type DiskPoolConfig struct {
	Name            string         `json:"name" yaml:"name"`
	DiskSize        int            `json:"disk_size" yaml:"disk_size"`
	CloudProperties map[string]any `json:"cloud_properties,omitempty" yaml:"cloud_properties,omitempty"`
}

// ApplyDefaults fills optional collections so callers can range over them.
func (m *Manifest) ApplyDefaults() {
	if m.Properties == nil {
		m.Properties = make(map[string]any)
	}
	if m.Update == nil {
		m.Update = make(map[string]any)
	}
}
