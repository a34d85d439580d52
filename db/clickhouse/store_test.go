package clickhouse

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steel-siting/internal/raster"
)

func TestCellsFromGrid(t *testing.T) {
	g := raster.NewSolutionGrid(raster.Axis(10, 1, 2), raster.Axis(20, 1, 2))
	// solved cell
	g.Set(raster.LayerLCOE, 0, 0, 45)
	g.Set(raster.LayerInstallationCost, 0, 0, 123456789.129)
	g.Set(raster.LayerSolarFactor, 0, 0, 2)
	g.Set(raster.LayerWindFactor, 0, 0, 1)
	g.Set(raster.LayerBatteryFactor, 0, 0, 3)
	// infeasible land cell
	g.Set(raster.LayerInstallationCost, 1, 1, 0)
	g.Set(raster.LayerSolarFactor, 1, 1, 0)

	id := uuid.New()
	cells := CellsFromGrid(id, g)
	require.Len(t, cells, 2)

	solved := cells[0]
	assert.Equal(t, id, solved.RunID)
	assert.Equal(t, 10.0, solved.Lat)
	assert.Equal(t, 20.0, solved.Lon)
	require.NotNil(t, solved.LCOE)
	assert.Equal(t, 45.0, *solved.LCOE)
	assert.Equal(t, "123456789.13", solved.InstallationCost.StringFixed(2))
	assert.Equal(t, 3.0, solved.BatteryFactor)

	infeasible := cells[1]
	assert.Equal(t, 11.0, infeasible.Lat)
	assert.Equal(t, 21.0, infeasible.Lon)
	assert.Nil(t, infeasible.LCOE)
	assert.True(t, infeasible.InstallationCost.IsZero())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "steelsite", cfg.Database)
	assert.Equal(t, 9000, cfg.Port)
}
