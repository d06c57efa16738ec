// Package spada drives attendance submission on a SPADA (Moodle) site with a
// headless Chrome session: log in, open the course, open the attendance
// activity, pick the Present status, submit. It also reads back the time
// range Moodle shows for today's session so the engine can correct timetable
// drift.
package spada

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"attendbot/internal/engine"
	"attendbot/internal/registry"
	logx "attendbot/pkg/logx"
)

const defaultTimeout = 90 * time.Second

// Retriable failure reasons, worded for the end-user notification.
var (
	errCourseNotFound   = errors.New("course not found on SPADA")
	errNoAttendanceLink = errors.New("no attendance activity found in the course")
	errSubmitClosed     = errors.New("could not submit attendance (session closed or already submitted)")
)

type Config struct {
	// LoginURL is the Moodle login form, e.g.
	// https://spada.example.ac.id/login/index.php.
	LoginURL string
	// ChromePath optionally pins the browser binary.
	ChromePath string
	// Headless is on in production; turn off to watch a session.
	Headless bool
	// Timeout bounds one full attempt, login through submit.
	Timeout time.Duration
}

type Actor struct {
	cfg Config
	log logx.Logger

	// now is swappable for tests of the today-row matching.
	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Actor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Actor{cfg: cfg, log: log, now: time.Now}
}

// Attempt runs one full attendance submission. The outcome contract:
// OutcomeLoginRejected when the login form bounces, OutcomeSuccess when the
// submit button was pressed, and a retriable outcome for everything else so
// the engine's attempt bookkeeping always advances.
func (a *Actor) Attempt(ctx context.Context, acct registry.Account, course string) (engine.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if a.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(a.cfg.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	log := a.log.With(logx.String("account", acct.Username), logx.String("course", course))

	ok, err := a.login(browserCtx, acct)
	if err != nil {
		return retriable(fmt.Errorf("login page failed to load: %w", err)), nil
	}
	if !ok {
		log.Warn("login rejected")
		return engine.Outcome{Status: engine.OutcomeLoginRejected}, nil
	}

	if err := a.openCourse(browserCtx, course); err != nil {
		return retriable(err), nil
	}
	if err := a.openAttendance(browserCtx); err != nil {
		return retriable(err), nil
	}

	// Best effort: read the real session time before submitting so a drifted
	// timetable still gets corrected even when submission fails.
	observed := a.observeTodayRange(browserCtx, log)

	if err := a.submitPresent(browserCtx); err != nil {
		out := retriable(err)
		out.ObservedTime = observed
		return out, nil
	}
	log.Info("attendance submitted")
	return engine.Outcome{Status: engine.OutcomeSuccess, ObservedTime: observed}, nil
}

func retriable(err error) engine.Outcome {
	return engine.Outcome{Status: engine.OutcomeRetriable, Reason: err.Error()}
}

// login fills the Moodle login form. Moodle bounces a failed login back to
// login/index.php, so the post-submit URL is the success signal.
func (a *Actor) login(ctx context.Context, acct registry.Account) (bool, error) {
	var location string
	err := chromedp.Run(ctx,
		chromedp.Navigate(a.cfg.LoginURL),
		chromedp.WaitVisible("#username"),
		chromedp.SendKeys("#username", acct.Username),
		chromedp.SendKeys("#password", acct.Password),
		chromedp.Click("#loginbtn"),
		chromedp.Sleep(3*time.Second),
		chromedp.Location(&location),
	)
	if err != nil {
		return false, err
	}
	return !strings.Contains(location, "login/index.php"), nil
}

// openCourse finds the dashboard anchor whose text starts with the configured
// course name (case-insensitive; cut-off course names on the dashboard are
// why this is a prefix match) and navigates to it.
func (a *Actor) openCourse(ctx context.Context, course string) error {
	script := fmt.Sprintf(`(() => {
		const want = %q;
		for (const a of document.querySelectorAll('a')) {
			const t = (a.innerText || '').trim().toLowerCase();
			if (t.startsWith(want)) return a.href;
		}
		return '';
	})()`, strings.ToLower(course))

	var href string
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(script, &href),
	); err != nil {
		return fmt.Errorf("dashboard scan failed: %w", err)
	}
	if href == "" {
		return errCourseNotFound
	}
	return chromedp.Run(ctx,
		chromedp.Navigate(href),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
	)
}

// openAttendance locates the attendance activity inside the course page.
func (a *Actor) openAttendance(ctx context.Context) error {
	const script = `(() => {
		for (const a of document.querySelectorAll('li.activity.attendance a')) {
			const t = (a.innerText || '').toLowerCase();
			if (t.includes('attendance') || t.includes('presensi')) return a.href;
		}
		return '';
	})()`

	var href string
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(script, &href),
	); err != nil {
		return fmt.Errorf("course page scan failed: %w", err)
	}
	if href == "" {
		return errNoAttendanceLink
	}
	return chromedp.Run(ctx,
		chromedp.Navigate(href),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
	)
}

// observeTodayRange scans the attendance table's date column for today's row
// and returns its time range normalized to "HH:MM - HH:MM", or "" when no
// row matches or the cell does not parse.
func (a *Actor) observeTodayRange(ctx context.Context, log logx.Logger) string {
	const script = `(() => {
		const rows = [];
		for (const cell of document.querySelectorAll('td.datecol')) {
			const parts = Array.from(cell.querySelectorAll('nobr')).map(n => (n.innerText || '').trim());
			if (parts.length >= 2) rows.push(parts.slice(0, 2));
		}
		return rows;
	})()`

	var rows [][]string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &rows)); err != nil {
		log.Warn("attendance table scan failed", logx.Err(err))
		return ""
	}
	today := a.now()
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		date, err := parseMoodleDate(row[0])
		if err != nil || !sameDate(date, today) {
			continue
		}
		rng, err := normalizeRange(row[1])
		if err != nil {
			log.Warn("attendance row time did not parse", logx.String("raw", row[1]))
			return ""
		}
		return rng
	}
	log.Debug("no attendance row for today")
	return ""
}

// submitPresent clicks through the submission form: the "Submit attendance"
// link, the Present status radio, and the submit button. Each step that comes
// back empty-handed means the session window is closed or attendance was
// already taken, which is the same retriable failure to the engine.
func (a *Actor) submitPresent(ctx context.Context) error {
	const clickSubmitLink = `(() => {
		for (const a of document.querySelectorAll('a')) {
			if ((a.innerText || '').trim().includes('Submit attendance')) { a.click(); return true; }
		}
		return false;
	})()`
	const pickPresent = `(() => {
		for (const label of document.querySelectorAll('label.form-check-label')) {
			const span = label.querySelector('.statusdesc');
			if (span && span.innerText.trim().toLowerCase() === 'present') {
				const input = label.querySelector('input');
				if (input) { input.click(); return true; }
			}
		}
		return false;
	})()`

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(clickSubmitLink, &clicked)); err != nil || !clicked {
		return errSubmitClosed
	}

	stepCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if err := chromedp.Run(stepCtx, chromedp.WaitVisible("label.form-check-label")); err != nil {
		return errSubmitClosed
	}

	var picked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(pickPresent, &picked)); err != nil || !picked {
		return errSubmitClosed
	}
	if err := chromedp.Run(ctx, chromedp.Click("#id_submitbutton")); err != nil {
		return errSubmitClosed
	}
	return nil
}
