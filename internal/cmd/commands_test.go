package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/fleetplan/pkg/planregistry"
)

const testManifestYAML = `name: cf
releases:
  - name: appcloud
    version: "42"
    jobs:
      - name: nats
        version: "3"
        sha1: s-nats
        blobstore_id: b-nats
        packages: [nats]
    packages:
      - name: nats
        version: "1.2"
networks:
  - name: default
    subnets:
      - range: 10.0.0.0/24
        gateway: 10.0.0.1
        static: ["10.0.0.10 - 10.0.0.20"]
resource_pools:
  - name: small
    size: 2
    network: default
properties:
  nats:
    user: admin
jobs:
  - name: nats
    template: nats
    instances: 1
    resource_pool: small
    networks:
      - name: default
        static_ips: [10.0.0.10]
`

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlanCommand_RecordsPlan(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "cf.yml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(testManifestYAML), 0o644))
	plans := filepath.Join(dir, "plans")

	_, err := runRoot(t, "plan", manifestPath,
		"--plans-dir", plans,
		"--instance-db", filepath.Join(dir, "instances.db"))
	require.NoError(t, err)

	records, err := planregistry.NewStore(plans).List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cf", records[0].Deployment)
	assert.Equal(t, manifestPath, records[0].ManifestPath)

	job := records[0].Job("nats")
	require.NotNil(t, job)
	require.Len(t, job.Instances, 1)
	assert.Equal(t, "10.0.0.10", job.Instances[0].Networks["default"])
	assert.NotEmpty(t, job.Instances[0].VMCID)
}

func TestPlanCommand_MissingManifest(t *testing.T) {
	dir := t.TempDir()
	_, err := runRoot(t, "plan", filepath.Join(dir, "absent.yml"), "--plans-dir", filepath.Join(dir, "plans"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Manifest not found")
}

func TestSpecConvertCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"nats","template":"nats","version":"3","sha1":"abc"}`), 0o644))

	out, err := runRoot(t, "spec", "convert", path)
	require.NoError(t, err)

	var spec map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &spec))
	templates, ok := spec["templates"].([]any)
	require.True(t, ok)
	require.Len(t, templates, 1)
	assert.Equal(t, "nats", templates[0].(map[string]any)["name"])
	assert.Equal(t, "abc", templates[0].(map[string]any)["sha1"])
}

func TestDecodeSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "json", input: `{"templates": []}`},
		{name: "yaml", input: "templates: []\nname: x\n"},
		{name: "garbage", input: "::: [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := decodeSpec([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, spec, "templates")
		})
	}
}
