package telemetry

import (
	"math"
	"testing"

	"owl-loadshed/internal/models"

	"github.com/stretchr/testify/assert"
)

func raw(generated, used, charge, capacity float64) models.RawPowerSources {
	return models.RawPowerSources{
		Solar:   &models.RawSolar{Current: &models.SolarCurrent{Generated: generated}},
		Grid:    &models.RawGrid{Current: &models.GridCurrent{Used: used}},
		Battery: &models.RawBattery{Status: &models.BatteryStatus{CurrentCharge: charge, Capacity: capacity}},
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name                  string
		in                    models.RawPowerSources
		solar, grid, battery  int
	}{
		{"split", raw(300, 700, 2000, 5000), 30, 70, 40},
		{"rounding half up", raw(1, 7, 1750, 5000), 13, 88, 35},
		{"no flow", raw(0, 0, 0, 5000), 0, 0, 0},
		{"capacity unset uses default", raw(10, 0, 2500, 0), 100, 0, 50},
		{"overcharged battery clamps", raw(0, 1, 6000, 5000), 0, 100, 100},
		{"negative values are absent", raw(-5, 10, -1, 5000), 0, 100, 0},
		{"empty document", models.RawPowerSources{}, 0, 0, 0},
		{"huge charge on tiny capacity clamps", raw(0, 0, 1e308, 1), 0, 0, 100},
		{"huge generation clamps", raw(1e308, 1e-300, 0, 5000), 100, 0, 0},
		{"infinite charge is absent", raw(0, 0, math.Inf(1), 5000), 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.in)
			assert.Equal(t, tt.solar, got.Solar.Percentage)
			assert.Equal(t, tt.grid, got.Grid.Percentage)
			assert.Equal(t, tt.battery, got.Battery.Percentage)
			assert.Equal(t, models.SourceBattery, got.Battery.Source)
		})
	}
}
