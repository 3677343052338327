// Package device normalizes raw endpoint names into device identities.
package device

import (
	"regexp"
	"strings"
)

const (
	LogitechG560  = "Logitech G560"
	AudezeMaxwell = "Audeze Maxwell"
)

var (
	speakersPattern = regexp.MustCompile(`^Speakers \((.*)\)$`)

	// canonical maps a marker found anywhere in a raw name to the identity.
	canonical = []string{LogitechG560, AudezeMaxwell}

	batteryMarkers = []string{"Maxwell", "Audeze"}
)

// CleanName returns the identity for a raw device name. Names shorter than
// two characters produce no identity.
func CleanName(raw string) (string, bool) {
	if len(raw) < 2 {
		return "", false
	}
	for _, name := range canonical {
		if strings.Contains(raw, name) {
			return name, true
		}
	}
	name := strings.TrimSpace(speakersPattern.ReplaceAllString(raw, "$1"))
	if name == "" {
		return "", false
	}
	return name, true
}

// HasBattery reports whether battery telemetry is meaningful for the device.
func HasBattery(id string) bool {
	for _, m := range batteryMarkers {
		if strings.Contains(id, m) {
			return true
		}
	}
	return false
}
