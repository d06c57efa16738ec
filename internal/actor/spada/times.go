package spada

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Moodle renders the attendance table's date cell in several shapes depending
// on theme and locale settings.
var moodleDateLayouts = []string{
	"Mon 2 Jan 2006",
	"Mon 2 January 2006",
	"Monday 2 Jan 2006",
	"Monday 2 January 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// parseMoodleDate parses strings like "Sat 6 Sep 2025" or
// "Friday, 12 September 2025" down to a calendar date.
func parseMoodleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	for _, layout := range moodleDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

var bareHourRe = regexp.MustCompile(`^\d{1,2}(AM|PM)$`)

// normalizeClock converts a Moodle 12-hour time token to 24-hour HH:MM.
// "10AM" gains the missing minutes first, then "10:00AM" parses normally.
func normalizeClock(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if bareHourRe.MatchString(s) {
		s = s[:len(s)-2] + ":00" + s[len(s)-2:]
	}
	t, err := time.Parse("3:04PM", s)
	if err != nil {
		return "", fmt.Errorf("unrecognized time %q", s)
	}
	return t.Format("15:04"), nil
}

// normalizeRange turns a Moodle range like "10AM - 11:40AM" into the
// "HH:MM - HH:MM" form the timetable stores.
func normalizeRange(s string) (string, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unrecognized time range %q", s)
	}
	start, err := normalizeClock(parts[0])
	if err != nil {
		return "", err
	}
	end, err := normalizeClock(parts[1])
	if err != nil {
		return "", err
	}
	return start + " - " + end, nil
}
