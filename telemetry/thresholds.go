package telemetry

import (
	"fmt"
	"math"
)

// Thresholds are the limits each condition is evaluated against. Low limits
// trigger strictly below, high limits strictly above.
type Thresholds struct {
	O2Low        float64 `yaml:"o2_low"`
	BatteryLow   float64 `yaml:"battery_low"`
	CO2High      float64 `yaml:"co2_high"`
	SuitTempLow  float64 `yaml:"suit_temp_low"`
	SuitTempHigh float64 `yaml:"suit_temp_high"`
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		O2Low:        19.0,
		BatteryLow:   15.0,
		CO2High:      1.0,
		SuitTempLow:  -20.0,
		SuitTempHigh: 45.0,
	}
}

// Validate rejects non-finite limits and an inverted temperature band.
func (t Thresholds) Validate() error {
	values := map[string]float64{
		"o2_low":         t.O2Low,
		"battery_low":    t.BatteryLow,
		"co2_high":       t.CO2High,
		"suit_temp_low":  t.SuitTempLow,
		"suit_temp_high": t.SuitTempHigh,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("threshold %s is not finite", name)
		}
	}
	if t.SuitTempLow >= t.SuitTempHigh {
		return fmt.Errorf("suit_temp_low (%g) must be below suit_temp_high (%g)", t.SuitTempLow, t.SuitTempHigh)
	}
	return nil
}
