// Package vision extracts a timetable CSV from a schedule screenshot using
// the Gemini generateContent REST API.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"attendbot/internal/timetable"
	logx "attendbot/pkg/logx"
)

const (
	defaultModel   = "gemini-2.0-flash"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// The model must answer with bare CSV so the reply can be previewed and
// saved as-is.
const extractPrompt = "Extract the class schedule from this image and return only CSV rows. " +
	"Columns must be in this exact order: CourseName,Day,Time. " +
	"Example:\n" +
	"CourseName,Day,Time\n" +
	"Matematika,Senin,07:00 - 09:00\n" +
	"Fisika,Rabu,10:00 - 12:00\n" +
	"Always add column name\n" +
	"Do not add ```csv```\n" +
	"Do not forget the space before and after hyphen for the time\n" +
	"Do not include class, explanations, or extra text. only Course Name, Day and Time."

var (
	ErrNoAPIKey = errors.New("vision: no API key configured")
	ErrEmpty    = errors.New("vision: model returned no schedule")
)

type Config struct {
	APIKey  string
	Model   string        // default gemini-2.0-flash
	BaseURL string        // overridable for tests
	Timeout time.Duration // default 60s
}

type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, log: log, http: &http.Client{Timeout: cfg.Timeout}}
}

// Enabled reports whether an API key is configured. Without one the image
// upload path is disabled and users can only upload CSV directly.
func (c *Client) Enabled() bool { return c.cfg.APIKey != "" }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractScheduleCSV sends the image to Gemini and returns the CSV text,
// already validated against the timetable format.
func (c *Client) ExtractScheduleCSV(ctx context.Context, image []byte) (string, error) {
	if !c.Enabled() {
		return "", ErrNoAPIKey
	}

	req := generateRequest{Contents: []content{{Parts: []part{
		{Text: extractPrompt},
		// Telegram photos are JPEG; Gemini sniffs PNG under this MIME too.
		{InlineData: &inlineData{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
	}}}}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("vision: read response: %w", err)
	}
	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("vision: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("vision: api error: %s", out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision: api status %d", resp.StatusCode)
	}

	var text string
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			text += p.Text
		}
		if text != "" {
			break
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	if err := ValidateCSV(text); err != nil {
		c.log.Warn("vision: model output failed validation", logx.Err(err))
		return "", err
	}
	return text, nil
}

// ValidateCSV checks that text looks like a saveable timetable: header line
// first, at least one row, and every row's time range parsable.
func ValidateCSV(text string) error {
	lines := nonEmptyLines(text)
	if len(lines) == 0 || !strings.HasPrefix(strings.ToLower(lines[0]), "coursename,day,time") {
		return errors.New("CSV must start with header: CourseName,Day,Time")
	}
	if len(lines) < 2 {
		return errors.New("CSV must have at least one schedule row")
	}
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			return fmt.Errorf("row %q needs CourseName,Day,Time", line)
		}
		if _, _, err := timetable.ParseTimeRange(fields[len(fields)-1]); err != nil {
			return fmt.Errorf("row %q: %v", line, err)
		}
	}
	return nil
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return out
}
