package config

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Accounts   AccountsConfig   `json:"accounts"`
	Flags      FlagsConfig      `json:"flags"`
	Attendance AttendanceConfig `json:"attendance"`
	Actor      ActorConfig      `json:"actor"`
	Notifier   *NotifierConfig  `json:"notifier,omitempty"`
	Vision     VisionConfig     `json:"vision"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerChatID receives WARN+ log lines when logging.telegram is enabled.
	OwnerChatID int64 `json:"owner_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AccountsConfig locates the account registry and per-account timetables.
type AccountsConfig struct {
	Path        string `json:"path"`         // registry yaml, default "./accounts.yaml"
	ScheduleDir string `json:"schedule_dir"` // default "./schedules"
}

// FlagsConfig controls the durable flag store.
//
// Driver values:
//   - "file": presence-only <key>.flag files under Path (a directory)
//   - "sqlite": single-table SQLite database at Path
type FlagsConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AttendanceConfig controls the evaluation-pass engine.
//
// All durations are Go duration strings.
//
// Defaults (when fields are omitted/zero):
//   - pass_interval: "1m"  (must stay below the 15m session window)
//   - session_window: "15m"
//   - max_attempts: 3
//   - concurrency: 4
//   - stagger: "2s"
type AttendanceConfig struct {
	Enabled       bool   `json:"enabled"`
	PassInterval  string `json:"pass_interval,omitempty"`
	SessionWindow string `json:"session_window,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	Concurrency   int    `json:"concurrency,omitempty"`
	Stagger       string `json:"stagger,omitempty"`
	Timezone      string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
}

// ActorConfig controls the site-automation actor.
type ActorConfig struct {
	LoginURL string `json:"login_url"`
	// ChromePath overrides the Chromium binary (empty: chromedp default lookup).
	ChromePath string `json:"chrome_path,omitempty"`
	Headless   *bool  `json:"headless,omitempty"` // default true
	// Timeout bounds one full attempt (login through submit).
	Timeout string `json:"timeout,omitempty"` // default "90s"
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// VisionConfig controls timetable extraction from photos.
type VisionConfig struct {
	APIKey string `json:"api_key,omitempty"`
	Model  string `json:"model,omitempty"` // default "gemini-2.0-flash"
}
