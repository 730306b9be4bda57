package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/fleetplan/pkg/deployplan"
	"github.com/3leaps/fleetplan/pkg/instance"
	"github.com/3leaps/fleetplan/pkg/instancestore"
	"github.com/3leaps/fleetplan/pkg/jobspec"
	"github.com/3leaps/fleetplan/pkg/manifest"
	"github.com/3leaps/fleetplan/pkg/network"
	"github.com/3leaps/fleetplan/pkg/release"
)

func testManifest() *manifest.Manifest {
	m := &manifest.Manifest{
		Name: "cf",
		Releases: []manifest.ReleaseConfig{
			{
				Name: "appcloud", Version: "42",
				Jobs: []manifest.ReleaseJobConfig{
					{Name: "nats", Version: "3", SHA1: "s-nats", BlobstoreID: "b-nats", Packages: []string{"nats"}},
					{
						Name: "router", Version: "7", Packages: []string{"router", "common"},
						Properties: map[string]manifest.PropertyConfig{
							"router.port":   {Default: 80},
							"router.secret": {},
						},
					},
				},
				Packages: []manifest.ReleasePackageConfig{
					{Name: "nats", Version: "1.2", Dependencies: []string{"ruby"}},
					{Name: "ruby", Version: "2.7"},
					{Name: "router", Version: "5"},
					{Name: "common", Version: "1"},
				},
			},
			{
				Name: "monitoring", Version: "9",
				Jobs: []manifest.ReleaseJobConfig{
					{Name: "collector", Version: "1", Packages: []string{"common"}},
				},
				Packages: []manifest.ReleasePackageConfig{{Name: "common", Version: "2"}},
			},
		},
		Networks: []manifest.NetworkConfig{{
			Name: "default",
			Subnets: []manifest.SubnetConfig{{
				Range:   "10.0.0.0/24",
				Gateway: "10.0.0.1",
				Static:  []string{"10.0.0.10 - 10.0.0.20"},
			}},
		}},
		ResourcePools: []manifest.ResourcePoolConfig{{Name: "small", Size: 4, Network: "default"}},
		Properties: map[string]any{
			"router": map[string]any{"secret": "s3cret"},
			"nats":   map[string]any{"user": "admin"},
		},
		Jobs: []map[string]any{
			{
				"name": "nats", "release": "appcloud", "template": "nats", "instances": 1,
				"resource_pool": "small",
				"networks":      []any{map[string]any{"name": "default", "static_ips": []any{"10.0.0.10"}}},
			},
			{
				"name": "router", "release": "appcloud", "template": "router", "instances": 2,
				"resource_pool": "small", "networks": []any{map[string]any{"name": "default"}},
			},
		},
	}
	m.ApplyDefaults()
	return m
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	db, err := instancestore.Open(ctx, instancestore.Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	plan, err := Build(ctx, testManifest(), Options{DB: db})
	require.NoError(t, err)
	require.Len(t, plan.Jobs, 2)
	assert.Equal(t, "cf", plan.Name())

	nats := plan.Job("nats")
	require.NotNil(t, nats)
	spec, err := nats.Spec()
	require.NoError(t, err)
	assert.Equal(t, "nats", spec.Template)
	assert.Equal(t, "s-nats", spec.SHA1)

	pkgSpec, err := nats.PackageSpec()
	require.NoError(t, err)
	assert.Contains(t, pkgSpec, "nats")
	assert.NotContains(t, pkgSpec, "ruby", "dependencies outside the template's package list are excluded")
	assert.Len(t, nats.Packages(), 2)

	// Unschemed template receives every property.
	assert.Equal(t, map[string]any{"user": "admin"}, nats.Properties()["nats"])
	assert.Contains(t, nats.Properties(), "router")

	router := plan.Job("router")
	require.NotNil(t, router)
	assert.Equal(t, map[string]any{
		"router": map[string]any{"port": 80, "secret": "s3cret"},
	}, router.Properties())

	insts := plan.Instances("router")
	require.Len(t, insts, 2)
	assert.Equal(t, "10.0.0.2", insts[0].Summary().Networks["default"])
	assert.Equal(t, "10.0.0.3", insts[1].Summary().Networks["default"])
	assert.Equal(t, "10.0.0.10", plan.Instances("nats")[0].Summary().Networks["default"])

	rows, err := instancestore.ListInstances(ctx, db, "cf")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	for _, row := range rows {
		assert.NotEmpty(t, row.VMCID)
	}

	rec, err := plan.Record("plan-1", "cf.yml", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "cf", rec.Deployment)
	require.Len(t, rec.Jobs, 2)
	assert.Equal(t, "nats", rec.Jobs[0].Spec["template"])
	assert.Len(t, rec.Jobs[1].Instances, 2)
}

func TestBuild_FailedBuildLeavesStoreEmpty(t *testing.T) {
	ctx := context.Background()
	db, err := instancestore.Open(ctx, instancestore.Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	m := testManifest()
	m.Jobs[1]["instances"] = 1
	m.Jobs[1]["networks"] = []any{map[string]any{"name": "default", "static_ips": []any{"10.0.0.10"}}}

	_, err = Build(ctx, m, Options{DB: db})
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrInvalidReservation)

	rows, err := instancestore.ListInstances(ctx, db, "cf")
	require.NoError(t, err)
	assert.Empty(t, rows, "nats bound before router failed but its rows must not persist")

	_, err = Build(ctx, testManifest(), Options{DB: db})
	require.NoError(t, err)
	rows, err = instancestore.ListInstances(ctx, db, "cf")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestBuild_CollectsJobErrors(t *testing.T) {
	m := testManifest()
	m.Jobs = append(m.Jobs,
		map[string]any{
			"name": "mixed",
			"templates": []any{
				map[string]any{"name": "router", "release": "appcloud"},
				map[string]any{"name": "collector", "release": "monitoring"},
			},
			"instances": 1, "resource_pool": "small",
			"networks": []any{map[string]any{"name": "default"}},
		},
		map[string]any{"name": "broken", "template": "nats", "instances": 1},
	)

	_, err := Build(context.Background(), m, Options{})
	require.Error(t, err)

	var collision *deployplan.PackageCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, "mixed", collision.Job)
	assert.Equal(t, "common", collision.Package)
	assert.ErrorIs(t, err, jobspec.ErrInvalidJobSpec)
}

func TestBuild_PropertyStyleConflict(t *testing.T) {
	m := testManifest()
	m.Jobs = []map[string]any{{
		"name": "combo", "release": "appcloud", "template": []any{"nats", "router"},
		"instances": 0, "resource_pool": "small",
		"networks": []any{map[string]any{"name": "default"}},
	}}

	_, err := Build(context.Background(), m, Options{})
	var conflict *deployplan.PropertyStyleConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "combo", conflict.Job)
}

func TestBuild_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *manifest.Manifest)
		wantErr error
	}{
		{
			name: "unknown template",
			mutate: func(m *manifest.Manifest) {
				m.Jobs[0]["template"] = "uaa"
			},
			wantErr: release.ErrTemplateNotFound,
		},
		{
			name: "pool exhausted",
			mutate: func(m *manifest.Manifest) {
				m.ResourcePools[0].Size = 2
			},
			wantErr: instance.ErrPoolExhausted,
		},
		{
			name: "static ip outside static range",
			mutate: func(m *manifest.Manifest) {
				m.Jobs[0]["networks"] = []any{map[string]any{"name": "default", "static_ips": []any{"10.0.0.50"}}}
			},
			wantErr: network.ErrInvalidReservation,
		},
		{
			name: "duplicate canonical job name",
			mutate: func(m *manifest.Manifest) {
				dup := map[string]any{}
				for k, v := range m.Jobs[1] {
					dup[k] = v
				}
				dup["name"] = "Router"
				m.Jobs = append(m.Jobs, dup)
			},
			wantErr: ErrDuplicateName,
		},
		{
			name: "duplicate network",
			mutate: func(m *manifest.Manifest) {
				m.Networks = append(m.Networks, m.Networks[0])
			},
			wantErr: ErrDuplicateName,
		},
		{
			name: "pool on unknown network",
			mutate: func(m *manifest.Manifest) {
				m.ResourcePools[0].Network = "dmz"
			},
			wantErr: ErrUnknownNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest()
			tt.mutate(m)
			_, err := Build(context.Background(), m, Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlan_DeploymentRegistry(t *testing.T) {
	plan, err := Build(context.Background(), testManifest(), Options{})
	require.NoError(t, err)

	d, err := plan.Deployment("cf")
	require.NoError(t, err)
	_, err = d.Network("default")
	require.NoError(t, err)
	_, err = d.Network("dmz")
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = plan.Deployment("other")
	assert.ErrorIs(t, err, ErrUnknownDeployment)
}

func TestBuild_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, testManifest(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
