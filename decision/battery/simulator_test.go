package battery

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateOfCharge(t *testing.T) {
	tests := []struct {
		name     string
		net      []float64
		capacity float64
		initial  float64
		want     []float64
	}{
		{
			name:     "deficit then surplus fills to capacity",
			net:      []float64{-1, -1, -1, 2, 2, 2},
			capacity: 2,
			want:     []float64{0, 0, 0, 2, 2, 2},
		},
		{
			name:     "charge and discharge",
			net:      []float64{1, 1, -0.5, -2, 0.25},
			capacity: 3,
			want:     []float64{1, 2, 1.5, 0, 0.25},
		},
		{
			name:     "zero capacity stays empty",
			net:      []float64{5, -5, 5},
			capacity: 0,
			want:     []float64{0, 0, 0},
		},
		{
			name:     "explicit initial charge",
			net:      []float64{-1, -1},
			capacity: 4,
			initial:  1.5,
			want:     []float64{0.5, 0},
		},
		{
			name: "empty series",
			net:  nil,
			want: []float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StateOfCharge(tt.net, tt.capacity, tt.initial)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-12, "hour %d", i)
			}
		})
	}
}

func TestStateOfChargeStaysWithinCapacity(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for trial := 0; trial < 200; trial++ {
		capacity := rng.Float64() * 10
		net := make([]float64, 100)
		for i := range net {
			net[i] = rng.NormFloat64() * 3
		}
		for _, s := range StateOfCharge(net, capacity, 0) {
			require.GreaterOrEqual(t, s, 0.0)
			require.LessOrEqual(t, s, capacity)
		}
	}
}

func TestCoverage(t *testing.T) {
	net := []float64{-1, -1, -1, 2, 2, 2}
	soc := StateOfCharge(net, 2, 0)
	assert.InDelta(t, 0.5, Coverage(net, soc, 0), 1e-12)

	net = []float64{1, -0.5, -0.5, -0.5}
	soc = StateOfCharge(net, 1, 0)
	// hour 3 has only 0 stored and needs 0.5
	assert.InDelta(t, 0.75, Coverage(net, soc, 0), 1e-12)

	assert.Equal(t, 0.0, Coverage(nil, nil, 0))
}

func TestCoverageWithinUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 9))
	for trial := 0; trial < 200; trial++ {
		net := make([]float64, 1+rng.IntN(50))
		for i := range net {
			net[i] = rng.NormFloat64()
		}
		d := Simulate(net, rng.Float64()*5)
		require.GreaterOrEqual(t, d.Coverage, 0.0)
		require.LessOrEqual(t, d.Coverage, 1.0)
	}
}

func TestCurtailment(t *testing.T) {
	net := []float64{-1, -1, -1, 2, 2, 2}
	d := Simulate(net, 2)
	// 2 stored in hour 3, then everything beyond is spilled
	assert.InDelta(t, 4.0, d.Curtailed, 1e-12)
	assert.Equal(t, []float64{0, 0, 0, 2, 2, 2}, d.SOC)
}
