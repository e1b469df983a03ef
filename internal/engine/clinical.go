package engine

import (
	"fmt"
	"math"
	"strings"
)

// Clinical threshold operators. Each evaluates a vital sign or lab value
// against a critical range and is true when the value is strictly outside
// the safe range. Touching a boundary is not critical.

// Default safe ranges for vitals. Condition metadata may override any bound
// ("low", "high", and for blood pressure "systolic_low", "systolic_high",
// "diastolic_low", "diastolic_high").
const (
	defaultSystolicLow   = 90
	defaultSystolicHigh  = 180
	defaultDiastolicLow  = 60
	defaultDiastolicHigh = 120
	defaultHeartRateLow  = 40
	defaultHeartRateHigh = 130
	defaultTempLowF      = 95.0
	defaultTempHighF     = 103.0
)

// labRange is a critical-value band for a named lab test. Values at or
// inside [Low, High] are safe.
type labRange struct {
	Low  float64
	High float64
}

// labCriticalRanges is the fixed table of critical thresholds per test name,
// in conventional US reporting units.
var labCriticalRanges = map[string]labRange{
	"glucose":    {Low: 54, High: 400},   // mg/dL
	"creatinine": {Low: 0.2, High: 5.0},  // mg/dL
	"hemoglobin": {Low: 7.0, High: 20.0}, // g/dL
	"potassium":  {Low: 2.8, High: 6.0},  // mmol/L
	"sodium":     {Low: 120, High: 160},  // mmol/L
	"wbc":        {Low: 2.0, High: 30.0}, // 10^3/uL
	"platelets":  {Low: 20, High: 1000},  // 10^3/uL
	"troponin":   {Low: math.Inf(-1), High: 0.4}, // ng/mL, no critical low
}

// evalBloodPressureCritical parses a "systolic/diastolic" reading and checks
// both components against their critical thresholds.
func evalBloodPressureCritical(fieldValue any, metadata map[string]any) (bool, error) {
	reading, ok := fieldValue.(string)
	if !ok {
		return false, fmt.Errorf("blood pressure requires a \"systolic/diastolic\" string, got %T", fieldValue)
	}
	parts := strings.SplitN(reading, "/", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("malformed blood pressure reading %q", reading)
	}
	systolic, err := toNumber(strings.TrimSpace(parts[0]))
	if err != nil {
		return false, fmt.Errorf("systolic: %w", err)
	}
	diastolic, err := toNumber(strings.TrimSpace(parts[1]))
	if err != nil {
		return false, fmt.Errorf("diastolic: %w", err)
	}

	sysLow := metadataNumber(metadata, "systolic_low", defaultSystolicLow)
	sysHigh := metadataNumber(metadata, "systolic_high", defaultSystolicHigh)
	diaLow := metadataNumber(metadata, "diastolic_low", defaultDiastolicLow)
	diaHigh := metadataNumber(metadata, "diastolic_high", defaultDiastolicHigh)

	return systolic > sysHigh || systolic < sysLow ||
		diastolic > diaHigh || diastolic < diaLow, nil
}

// evalHeartRateCritical checks a heart rate in beats per minute.
func evalHeartRateCritical(fieldValue any, metadata map[string]any) (bool, error) {
	rate, err := toNumber(fieldValue)
	if err != nil {
		return false, fmt.Errorf("heart rate: %w", err)
	}
	low := metadataNumber(metadata, "low", defaultHeartRateLow)
	high := metadataNumber(metadata, "high", defaultHeartRateHigh)
	return rate > high || rate < low, nil
}

// evalTemperatureCritical checks a body temperature. Fahrenheit is assumed
// unless metadata["unit"] starts with "c".
func evalTemperatureCritical(fieldValue any, metadata map[string]any) (bool, error) {
	temp, err := toNumber(fieldValue)
	if err != nil {
		return false, fmt.Errorf("temperature: %w", err)
	}
	if metadata != nil {
		if unit, ok := metadata["unit"].(string); ok {
			if strings.HasPrefix(strings.ToLower(unit), "c") {
				temp = temp*9/5 + 32
			}
		}
	}
	low := metadataNumber(metadata, "low", defaultTempLowF)
	high := metadataNumber(metadata, "high", defaultTempHighF)
	return temp > high || temp < low, nil
}

// evalLabValueCritical checks a numeric lab result against the fixed
// critical-range table. The test name comes from metadata["test"], falling
// back to the expected value when that is a string.
func evalLabValueCritical(fieldValue, expected any, metadata map[string]any) (bool, error) {
	test := ""
	if metadata != nil {
		if t, ok := metadata["test"].(string); ok {
			test = t
		}
	}
	if test == "" {
		if t, ok := expected.(string); ok {
			test = t
		}
	}
	if test == "" {
		return false, fmt.Errorf("lab_value_critical requires a test name in metadata or expected value")
	}

	rng, ok := labCriticalRanges[strings.ToLower(strings.TrimSpace(test))]
	if !ok {
		return false, fmt.Errorf("unknown lab test %q", test)
	}

	value, err := toNumber(fieldValue)
	if err != nil {
		return false, fmt.Errorf("lab value: %w", err)
	}
	return value > rng.High || value < rng.Low, nil
}

// metadataNumber reads a numeric override from condition metadata.
func metadataNumber(metadata map[string]any, key string, fallback float64) float64 {
	if metadata == nil {
		return fallback
	}
	v, ok := metadata[key]
	if !ok {
		return fallback
	}
	n, err := toNumber(v)
	if err != nil {
		return fallback
	}
	return n
}
