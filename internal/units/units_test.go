package units

import (
	"math"
	"testing"
)

func TestConvertMoment(t *testing.T) {
	tests := []struct {
		name     string
		momentAM float64
		units    string
		expected float64
	}{
		{"20 nAm to nAm", 20e-9, NAM, 20},
		{"20 nAm to pAm", 20e-9, PAM, 20000},
		{"20 nAm to Am", 20e-9, AM, 20e-9},
		{"scores are unchanged", 3.5, Score, 3.5},
		{"unknown units default to Am", 1e-9, "unknown", 1e-9},
		{"negative moment", -5e-12, PAM, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertMoment(tt.momentAM, tt.units)
			if math.Abs(result-tt.expected) > 1e-9*math.Max(1, math.Abs(tt.expected)) {
				t.Errorf("ConvertMoment(%g, %s) = %g, want %g", tt.momentAM, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid Am", AM, true},
		{"valid nAm", NAM, true},
		{"valid pAm", PAM, true},
		{"valid score", Score, true},
		{"invalid unit", "invalid", false},
		{"empty string", "", false},
		{"case sensitive", "NAM", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "Am, nAm, pAm, score" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestForMethod(t *testing.T) {
	tests := map[string]string{
		"MNE":     NAM,
		"dSPM":    Score,
		"sLORETA": Score,
		"eLORETA": NAM,
	}
	for method, want := range tests {
		if got := ForMethod(method); got != want {
			t.Errorf("ForMethod(%s) = %s, want %s", method, got, want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := Label(NAM); got != "Dipole moment (nAm)" {
		t.Errorf("Label(nAm) = %q", got)
	}
	if got := Label(Score); got != "Amplitude" {
		t.Errorf("Label(score) = %q", got)
	}
}

func TestIsMoment(t *testing.T) {
	for _, u := range []string{AM, NAM, PAM} {
		if !IsMoment(u) {
			t.Errorf("IsMoment(%s) = false", u)
		}
	}
	for _, u := range []string{Score, "", "mV"} {
		if IsMoment(u) {
			t.Errorf("IsMoment(%q) = true", u)
		}
	}
}
