// Package timetable loads per-account class schedules and resolves which
// session, if any, is currently actionable.
//
// The on-disk format is the CSV the upload flow produces:
//
//	CourseName,Day,Time
//	Matematika,Senin,07:00 - 09:00
//
// Day names follow the Indonesian convention of the source data. Malformed
// rows are skipped, never fatal: the files come from photographed timetables
// and a single bad row must not take the whole schedule down with it.
package timetable

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Header is the required first row of a timetable file.
var Header = []string{"CourseName", "Day", "Time"}

const timeSeparator = " - "

// Session is one timetable row.
type Session struct {
	Course string
	Day    string
	Start  Clock
	End    Clock
}

// TimeRange renders the session's range in the file format ("07:00 - 09:00").
func (s Session) TimeRange() string {
	return s.Start.String() + timeSeparator + s.End.String()
}

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight, for ordering.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// At anchors the clock on the given date in its location.
func (c Clock) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// ParseTimeRange parses "HH:MM - HH:MM".
func ParseTimeRange(s string) (start, end Clock, err error) {
	parts := strings.Split(s, timeSeparator)
	if len(parts) != 2 {
		return Clock{}, Clock{}, fmt.Errorf("invalid time range %q, expected %q separator", s, timeSeparator)
	}
	if start, err = ParseClock(parts[0]); err != nil {
		return Clock{}, Clock{}, err
	}
	if end, err = ParseClock(parts[1]); err != nil {
		return Clock{}, Clock{}, err
	}
	return start, end, nil
}

// dayNames maps time.Weekday to the day-name convention of the files.
var dayNames = map[time.Weekday]string{
	time.Monday:    "Senin",
	time.Tuesday:   "Selasa",
	time.Wednesday: "Rabu",
	time.Thursday:  "Kamis",
	time.Friday:    "Jumat",
	time.Saturday:  "Sabtu",
	time.Sunday:    "Minggu",
}

// DayName localizes a weekday to the timetable convention.
func DayName(d time.Weekday) string { return dayNames[d] }

// Timetable is an account's ordered session list. Row order is preserved
// across rewrites; it carries no semantics but users recognize their files.
type Timetable struct {
	Sessions []Session
}

// Load reads a timetable file. Malformed rows (wrong column count, unparsable
// time range) are dropped silently; an absent or empty file yields an error
// the caller treats as "no sessions".
func Load(path string) (*Timetable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read timetable %s: %w", path, err)
	}

	tt := &Timetable{}
	for i, rec := range records {
		if i == 0 && isHeader(rec) {
			continue
		}
		if len(rec) < 3 {
			continue
		}
		start, end, err := ParseTimeRange(rec[2])
		if err != nil {
			continue
		}
		tt.Sessions = append(tt.Sessions, Session{
			Course: strings.TrimSpace(rec[0]),
			Day:    strings.TrimSpace(rec[1]),
			Start:  start,
			End:    end,
		})
	}
	return tt, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), Header[0])
}

// Save writes sessions to path in the canonical format, atomically.
func Save(path string, sessions []Session) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return err
	}
	for _, s := range sessions {
		if err := w.Write([]string{s.Course, s.Day, s.TimeRange()}); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RewriteTime updates the time range of the row(s) whose course name starts
// with course (case-insensitive). It returns the previous range and whether
// anything was written; an unchanged range is a no-op, which is what makes
// drift correction idempotent.
func RewriteTime(path, course, newRange string) (oldRange string, changed bool, err error) {
	if _, _, err := ParseTimeRange(newRange); err != nil {
		return "", false, err
	}
	tt, err := Load(path)
	if err != nil {
		return "", false, err
	}

	lower := strings.ToLower(strings.TrimSpace(course))
	for i := range tt.Sessions {
		if !strings.HasPrefix(strings.ToLower(tt.Sessions[i].Course), lower) {
			continue
		}
		oldRange = tt.Sessions[i].TimeRange()
		if oldRange == newRange {
			continue
		}
		start, end, _ := ParseTimeRange(newRange)
		tt.Sessions[i].Start = start
		tt.Sessions[i].End = end
		changed = true
	}

	if !changed {
		return oldRange, false, nil
	}
	if err := Save(path, tt.Sessions); err != nil {
		return oldRange, false, err
	}
	return oldRange, true, nil
}
