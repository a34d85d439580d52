package files

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steel-siting/internal/raster"
	"steel-siting/pkg/api"
)

func TestSolutionStorePath(t *testing.T) {
	s := NewSolutionStore("/out")
	assert.Equal(t, filepath.Join("/out", "2030", "europe_p15.nc"), s.Path(api.RunKey{Year: 2030, Region: "europe", Percentile: 15}))
	assert.Equal(t, filepath.Join("/out", "2030", "GLOBAL_p2.5.nc"), s.Path(api.RunKey{Year: 2030, Region: "europe", Percentile: 2.5}.Global()))
}

func TestSolutionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSolutionStore(t.TempDir())
	key := api.RunKey{Year: 2030, Region: "europe", Percentile: 15}

	_, ok, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Exists(key))

	g := raster.NewSolutionGrid(raster.Axis(10, 1, 2), raster.Axis(10, 1, 2))
	g.Set(raster.LayerLCOE, 0, 0, 45)
	g.Set(raster.LayerInstallationCost, 0, 0, 9.5e8)
	require.NoError(t, s.Save(ctx, key, g))
	assert.True(t, s.Exists(key))

	back, ok, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	v, valid := back.Value(raster.LayerLCOE, 0, 0)
	assert.True(t, valid)
	assert.InDelta(t, 45, v, 1e-9)
	_, valid = back.Value(raster.LayerLCOE, 1, 1)
	assert.False(t, valid)
	assert.Equal(t, "2030/europe/p15", back.Attrs["run"])
}

func TestDataLayout(t *testing.T) {
	l := DataLayout{Root: "/data"}
	assert.Equal(t, filepath.Join("/data", "profiles", "europe_2030.nc"), l.ProfilePath("europe", 2030))
	assert.Equal(t, filepath.Join("/data", "max_capacity.nc"), l.MaxCapacityPath())
	assert.Equal(t, filepath.Join("/data", "land.nc"), l.LandPath())
}
