// Package units provides shared constants and conversions for source amplitudes
package units

import "strings"

// Unit constants. Dipole moments are stored in ampere-metres; Score marks
// the unitless values of noise-normalized estimates.
const (
	AM    = "Am"
	NAM   = "nAm"
	PAM   = "pAm"
	Score = "score"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{AM, NAM, PAM, Score}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertMoment converts a dipole moment from ampere-metres to the target units.
// Scores and unknown units are returned unchanged.
func ConvertMoment(momentAM float64, targetUnits string) float64 {
	switch targetUnits {
	case NAM:
		return momentAM * 1e9
	case PAM:
		return momentAM * 1e12
	default:
		return momentAM
	}
}

// ForMethod returns the display unit of estimates from an inverse method:
// MNE and eLORETA estimate dipole moments, dSPM and sLORETA give scores.
func ForMethod(method string) string {
	switch method {
	case "MNE", "eLORETA":
		return NAM
	}
	return Score
}

// IsMoment reports whether unit measures a dipole moment.
func IsMoment(unit string) bool {
	switch unit {
	case AM, NAM, PAM:
		return true
	}
	return false
}

// Label returns an axis label for values in unit.
func Label(unit string) string {
	if IsMoment(unit) {
		return "Dipole moment (" + unit + ")"
	}
	return "Amplitude"
}
