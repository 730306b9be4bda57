package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestPlanRegistryHealthChecker(t *testing.T) {
	dir := t.TempDir()

	t.Run("existing dir", func(t *testing.T) {
		assert.NoError(t, planRegistryHealthChecker{dir: dir}.CheckHealth(context.Background()))
	})

	t.Run("missing dir is healthy", func(t *testing.T) {
		assert.NoError(t, planRegistryHealthChecker{dir: filepath.Join(dir, "nope")}.CheckHealth(context.Background()))
	})

	t.Run("file instead of dir", func(t *testing.T) {
		path := filepath.Join(dir, "plans")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		err := planRegistryHealthChecker{dir: path}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})

	t.Run("unconfigured", func(t *testing.T) {
		assert.Error(t, planRegistryHealthChecker{}.CheckHealth(context.Background()))
	})
}

func TestInstanceDBHealthChecker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("missing file is healthy", func(t *testing.T) {
		path := filepath.Join(dir, "absent.db")
		assert.NoError(t, instanceDBHealthChecker{path: path}.CheckHealth(ctx))
		assert.NoFileExists(t, path)
	})

	t.Run("in-memory", func(t *testing.T) {
		assert.NoError(t, instanceDBHealthChecker{path: ":memory:"}.CheckHealth(ctx))
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.db")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a database "), 100), 0o644))
		assert.Error(t, instanceDBHealthChecker{path: path}.CheckHealth(ctx))
	})

	t.Run("unconfigured", func(t *testing.T) {
		assert.Error(t, instanceDBHealthChecker{}.CheckHealth(ctx))
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
