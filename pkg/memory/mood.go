package memory

import "time"

// Moods attached to memory entries.
const (
	MoodChaotic     = "chaotic"
	MoodLunchBreak  = "lunch-break"
	MoodDepressed   = "depressed"
	MoodSarcastic   = "sarcastic"
	MoodCoding      = "coding"
	MoodExistential = "existential"
	MoodCompressed  = "compressed"
	MoodNeutral     = "neutral"
)

// MoodAt returns the default mood for an entry written at t, in t's location.
// Rules are checked in order; the first match wins.
func MoodAt(t time.Time) string {
	h := t.Hour()
	switch {
	case t.Weekday() == time.Friday && h > 14:
		return MoodChaotic
	case h >= 11 && h <= 13:
		return MoodLunchBreak
	case h >= 22 || h <= 5:
		return MoodDepressed
	case h >= 6 && h <= 9:
		return MoodSarcastic
	case h >= 10 && h <= 18:
		return MoodCoding
	default:
		return MoodExistential
	}
}
