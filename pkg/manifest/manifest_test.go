package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validManifestYAML returns a minimal valid manifest in YAML format.
func validManifestYAML() string {
	return `name: cf
releases:
  - name: appcloud
    version: "42"
jobs:
  - name: nats
    template: nats
`
}

// validManifestJSON returns a minimal valid manifest in JSON format.
func validManifestJSON() string {
	return `{
  "name": "cf",
  "releases": [{"name": "appcloud", "version": "42"}],
  "jobs": [{"name": "nats", "template": "nats"}]
}`
}

// fullManifestYAML returns a manifest using every section.
func fullManifestYAML() string {
	return `$schema: https://schemas.3leaps.dev/fleetplan/v1.0.0/deployment-manifest.schema.json
name: cf
releases:
  - name: appcloud
    version: "42"
    jobs:
      - name: nats
        version: "3"
        sha1: 0f3c
        blobstore_id: 7a1e
        logs: ["nats/*.log"]
        packages: [nats, ruby]
        properties:
          nats.port:
            description: Listen port
            default: 4222
          nats.user: {}
    packages:
      - name: nats
        version: "1.2"
        dependencies: [ruby]
      - name: ruby
        version: "2.7"
networks:
  - name: default
    subnets:
      - range: 10.0.0.0/24
        gateway: 10.0.0.1
        dns: [10.0.0.2]
        reserved: ["10.0.0.2 - 10.0.0.9"]
        static: ["10.0.0.10 - 10.0.0.20"]
resource_pools:
  - name: small
    size: 4
    stemcell: ubuntu-jammy
    network: default
    cloud_properties:
      instance_type: m5.large
disk_pools:
  - name: fast
    disk_size: 10240
update:
  canaries: 1
  max_in_flight: 2
  canary_watch_time: 30s
properties:
  nats:
    user: admin
jobs:
  - name: nats
    template: nats
    instances: 2
    resource_pool: small
    networks:
      - name: default
    instance_states:
      1: stopped
`
}

func writeManifest(t *testing.T, filename, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		filename    string
		wantErr     error
		errContains string
		validate    func(t *testing.T, m *Manifest)
	}{
		{
			name:     "valid YAML manifest",
			content:  validManifestYAML(),
			filename: "manifest.yaml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "cf", m.Name)
				require.Len(t, m.Releases, 1)
				assert.Equal(t, "appcloud", m.Releases[0].Name)
				assert.Equal(t, "42", m.Releases[0].Version)
				require.Len(t, m.Jobs, 1)
				assert.Equal(t, "nats", m.Jobs[0]["name"])
				// Defaults
				assert.NotNil(t, m.Properties)
				assert.NotNil(t, m.Update)
			},
		},
		{
			name:     "valid JSON manifest",
			content:  validManifestJSON(),
			filename: "manifest.json",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "cf", m.Name)
				assert.Equal(t, "nats", m.Jobs[0]["template"])
			},
		},
		{
			name:     "full manifest",
			content:  fullManifestYAML(),
			filename: "full.yml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Contains(t, m.Schema, "deployment-manifest")

				rel := m.Releases[0]
				require.Len(t, rel.Jobs, 1)
				job := rel.Jobs[0]
				assert.Equal(t, "0f3c", job.SHA1)
				assert.Equal(t, "7a1e", job.BlobstoreID)
				assert.Equal(t, []string{"nats/*.log"}, job.Logs)
				assert.Equal(t, []string{"nats", "ruby"}, job.Packages)
				require.Contains(t, job.Properties, "nats.port")
				assert.Equal(t, 4222, job.Properties["nats.port"].Default)
				assert.Equal(t, "Listen port", job.Properties["nats.port"].Description)
				assert.Contains(t, job.Properties, "nats.user")

				require.Len(t, rel.Packages, 2)
				assert.Equal(t, []string{"ruby"}, rel.Packages[0].Dependencies)

				require.Len(t, m.Networks, 1)
				subnet := m.Networks[0].Subnets[0]
				assert.Equal(t, "10.0.0.0/24", subnet.Range)
				assert.Equal(t, []string{"10.0.0.2 - 10.0.0.9"}, subnet.Reserved)

				require.Len(t, m.ResourcePools, 1)
				assert.Equal(t, 4, m.ResourcePools[0].Size)
				assert.Equal(t, "m5.large", m.ResourcePools[0].CloudProperties["instance_type"])

				require.Len(t, m.DiskPools, 1)
				assert.Equal(t, 10240, m.DiskPools[0].DiskSize)

				assert.Equal(t, "30s", m.Update["canary_watch_time"])
				assert.Equal(t, map[string]any{"user": "admin"}, m.Properties["nats"])

				states, ok := m.Jobs[0]["instance_states"].(map[string]any)
				require.True(t, ok, "integer keys are normalized to strings")
				assert.Equal(t, "stopped", states["1"])
			},
		},
		{
			name:        "empty file",
			content:     "  \n",
			filename:    "empty.yaml",
			errContains: "empty",
		},
		{
			name:        "invalid YAML syntax",
			content:     "name: [invalid yaml",
			filename:    "bad.yaml",
			errContains: "invalid YAML",
		},
		{
			name:        "invalid JSON syntax",
			content:     `{"name": "cf"`,
			filename:    "bad.json",
			errContains: "invalid JSON",
		},
		{
			name: "missing name",
			content: `releases:
  - name: appcloud
    version: "42"
jobs: []
`,
			filename: "no-name.yaml",
			wantErr:  ErrValidationFailed,
		},
		{
			name: "missing releases",
			content: `name: cf
jobs: []
`,
			filename: "no-releases.yaml",
			wantErr:  ErrValidationFailed,
		},
		{
			name: "unknown top-level key",
			content: validManifestYAML() + `compilation:
  workers: 4
`,
			filename: "unknown.yaml",
			wantErr:  ErrValidationFailed,
		},
		{
			name: "job without name",
			content: `name: cf
releases:
  - name: appcloud
    version: "42"
jobs:
  - template: nats
`,
			filename: "job-no-name.yaml",
			wantErr:  ErrValidationFailed,
		},
		{
			name: "invalid job state",
			content: `name: cf
releases:
  - name: appcloud
    version: "42"
jobs:
  - name: nats
    state: paused
`,
			filename: "bad-state.yaml",
			wantErr:  ErrValidationFailed,
		},
		{
			name: "negative resource pool size",
			content: validManifestYAML() + `resource_pools:
  - name: small
    size: -1
`,
			filename: "bad-pool.yaml",
			wantErr:  ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, tt.filename, tt.content)

			m, err := Load(path)
			if tt.wantErr != nil || tt.errContains != "" {
				require.Error(t, err)
				assert.Nil(t, m)
				if tt.wantErr != nil {
					assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				}
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			require.NotNil(t, m)
			if tt.validate != nil {
				tt.validate(t, m)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifestNotFound))
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validManifestJSON()), "stdin.json")
	require.NoError(t, err)
	assert.Equal(t, "cf", m.Name)
}

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{
		{Path: "/name", Message: "missing"},
		{Message: "bad"},
	}
	assert.True(t, errors.Is(errs, ErrValidationFailed))
	assert.Contains(t, errs.Error(), "2 errors")
	assert.Contains(t, errs.Error(), "/name: missing")
	assert.Equal(t, "/name: missing", errs[:1].Error())
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		key    string
		ok     bool
	}{
		{uri: "s3://plans/cf/manifest.yml", bucket: "plans", key: "cf/manifest.yml", ok: true},
		{uri: "s3://plans/", ok: false},
		{uri: "s3:///key", ok: false},
		{uri: "gs://plans/key", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestLoadURI_LocalPath(t *testing.T) {
	path := writeManifest(t, "manifest.yaml", validManifestYAML())
	m, err := LoadURI(t.Context(), path, SourceOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cf", m.Name)
}
