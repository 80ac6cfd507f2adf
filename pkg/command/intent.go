package command

import "strings"

// phrases are checked in order; the first match wins.
var phrases = []struct {
	intent  Intent
	phrases []string
}{
	{IntentRoute, []string{"navigate", "route", "go to"}},
	{IntentSaveLocation, []string{"save location", "mark this place"}},
	{IntentSetEmergency, []string{"set emergency", "emergency number"}},
	{IntentIncreaseThreshold, []string{"increase threshold", "make it stricter"}},
	{IntentDecreaseThreshold, []string{"decrease threshold", "make it loose"}},
	{IntentHalt, []string{"stop announcements", "be quiet"}},
	{IntentResume, []string{"resume announcements", "talk again"}},
	{IntentEmergencyAlert, []string{"send help", "emergency alert"}},
}

// Classify maps recognized speech to an intent by phrase containment.
func Classify(text string) Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return IntentUnknown
	}
	for _, p := range phrases {
		for _, ph := range p.phrases {
			if strings.Contains(t, ph) {
				return p.intent
			}
		}
	}
	return IntentUnknown
}

// Destination extracts the place name from a routing request such as
// "navigate to city hall". It returns "" when nothing follows the verb.
func Destination(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range []string{"navigate to", "route to", "go to", "navigate", "route"} {
		if i := strings.Index(t, prefix); i >= 0 {
			rest := strings.TrimSpace(t[i+len(prefix):])
			return strings.TrimSpace(strings.TrimPrefix(rest, "the "))
		}
	}
	return ""
}
