package flagstore

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Key families. The layout is an external contract: the command layer lists
// pause flags by prefix, and operators can inspect/delete flag files by hand.
//
//	pause_user_<account>
//	pause_once_<account>_<courseSafe>
//	success_<account>_<courseSafe>_<YYYY-MM-DD>
//	retry_<account>_<courseSafe>_<YYYY-MM-DD>_attempt_<n>

const DateLayout = "2006-01-02"

var whitespaceRe = regexp.MustCompile(`\s+`)

// SafeCourse normalizes a course name for use inside a flag key.
func SafeCourse(name string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(name), "_")
}

func PauseUserKey(account string) string {
	return "pause_user_" + account
}

func PauseOncePrefix(account string) string {
	return "pause_once_" + account + "_"
}

func PauseOnceKey(account, course string) string {
	return PauseOncePrefix(account) + SafeCourse(course)
}

func SuccessKey(account, course string, day time.Time) string {
	return "success_" + account + "_" + SafeCourse(course) + "_" + day.Format(DateLayout)
}

func RetryKey(account, course string, day time.Time, attempt int) string {
	return "retry_" + account + "_" + SafeCourse(course) + "_" + day.Format(DateLayout) + "_attempt_" + strconv.Itoa(attempt)
}

// KeyDate extracts the YYYY-MM-DD stamp embedded in a success/retry key.
// Returns "" when the key carries no date (e.g. pause flags).
var keyDateRe = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})(?:_attempt_\d+)?$`)

func KeyDate(key string) string {
	m := keyDateRe.FindStringSubmatch(key)
	if m == nil {
		return ""
	}
	return m[1]
}
