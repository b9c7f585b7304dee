package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ============================================================
// Test Group 1: ValidateNonEmptyString
// ============================================================

func TestValidateNonEmptyString_Valid(t *testing.T) {
	assert.NoError(t, ValidateNonEmptyString("a-secret-value"))
}

func TestValidateNonEmptyString_Invalid(t *testing.T) {
	err := ValidateNonEmptyString("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

// ============================================================
// Test Group 2: ValidateDuration
// ============================================================

func TestValidateDuration_Valid(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		min      time.Duration
		max      time.Duration
	}{
		{"exactly min", 10 * time.Second, 10 * time.Second, 1 * time.Minute},
		{"exactly max", 1 * time.Minute, 10 * time.Second, 1 * time.Minute},
		{"middle of range", 30 * time.Second, 10 * time.Second, 1 * time.Minute},
		{"very small range", 5 * time.Second, 5 * time.Second, 5 * time.Second},
		{"large values", 24 * time.Hour, 1 * time.Hour, 48 * time.Hour},
		{"nanoseconds", 500 * time.Nanosecond, 100 * time.Nanosecond, 1 * time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDuration(tt.duration, tt.min, tt.max)
			assert.NoError(t, err, "Expected valid duration: %v in [%v, %v]", tt.duration, tt.min, tt.max)
		})
	}
}

func TestValidateDuration_BelowMin(t *testing.T) {
	err := ValidateDuration(5*time.Second, 10*time.Second, 1*time.Minute)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")
	assert.Contains(t, err.Error(), "5s")
	assert.Contains(t, err.Error(), "10s")
}

func TestValidateDuration_ExceedsMax(t *testing.T) {
	err := ValidateDuration(2*time.Minute, 10*time.Second, 1*time.Minute)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
	assert.Contains(t, err.Error(), "2m")
	assert.Contains(t, err.Error(), "1m")
}

func TestValidateDuration_InvalidRange(t *testing.T) {
	err := ValidateDuration(30*time.Second, 1*time.Minute, 10*time.Second)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid range")
}

func TestValidateDuration_ZeroValues(t *testing.T) {
	err := ValidateDuration(0, 0, 10*time.Second)
	assert.NoError(t, err)
}

// ============================================================
// Test Group 3: ValidateIntRange
// ============================================================

func TestValidateIntRange_Valid(t *testing.T) {
	tests := []struct {
		name  string
		value int
		min   int
		max   int
	}{
		{"exactly min", 1, 1, 10},
		{"exactly max", 10, 1, 10},
		{"middle of range", 5, 1, 10},
		{"single value range", 5, 5, 5},
		{"large values", 1000, 100, 10000},
		{"negative range", -5, -10, -1},
		{"zero in range", 0, -10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIntRange(tt.value, tt.min, tt.max)
			assert.NoError(t, err, "Expected valid value: %d in [%d, %d]", tt.value, tt.min, tt.max)
		})
	}
}

func TestValidateIntRange_BelowMin(t *testing.T) {
	err := ValidateIntRange(0, 1, 10)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")
}

func TestValidateIntRange_ExceedsMax(t *testing.T) {
	err := ValidateIntRange(11, 1, 10)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestValidateIntRange_InvalidRange(t *testing.T) {
	err := ValidateIntRange(5, 10, 1)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid range")
}

func TestValidateIntRange_EdgeCaseBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		value int
		min   int
		max   int
		valid bool
	}{
		{"just below min", 0, 1, 10, false},
		{"just at min", 1, 1, 10, true},
		{"just above max", 11, 1, 10, false},
		{"just at max", 10, 1, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIntRange(tt.value, tt.min, tt.max)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// ============================================================
// Test Group 4: ValidatePositiveDuration
// ============================================================

func TestValidatePositiveDuration_Valid(t *testing.T) {
	tests := []time.Duration{
		1 * time.Nanosecond, 1 * time.Second, 1 * time.Minute, 24 * time.Hour,
	}
	for _, d := range tests {
		assert.NoError(t, ValidatePositiveDuration(d))
	}
}

func TestValidatePositiveDuration_Invalid(t *testing.T) {
	tests := []time.Duration{0, -1 * time.Second, -1 * time.Hour}
	for _, d := range tests {
		err := ValidatePositiveDuration(d)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must be positive")
	}
}
