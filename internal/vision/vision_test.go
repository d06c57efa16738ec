package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "attendbot/pkg/logx"
)

func TestValidateCSV(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"valid", "CourseName,Day,Time\nMatematika,Senin,07:00 - 09:00\n", true},
		{"lowercase header", "coursename,day,time\nFisika,Rabu,10:00 - 12:00", true},
		{"missing header", "Matematika,Senin,07:00 - 09:00", false},
		{"header only", "CourseName,Day,Time\n", false},
		{"bad time", "CourseName,Day,Time\nFisika,Rabu,morning", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateCSV(tc.in)
			if (err == nil) != tc.ok {
				t.Errorf("ValidateCSV(%q) = %v, want ok=%v", tc.in, err, tc.ok)
			}
		})
	}
}

func TestExtractScheduleCSV(t *testing.T) {
	t.Parallel()
	const csv = "CourseName,Day,Time\nMatematika,Senin,07:00 - 09:00"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": csv}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL}, logx.Nop())
	got, err := c.ExtractScheduleCSV(context.Background(), []byte("fake-jpeg"))
	if err != nil {
		t.Fatal(err)
	}
	if got != csv {
		t.Errorf("got %q, want %q", got, csv)
	}
}

func TestExtractScheduleCSVRejectsGarbage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "I see a cat in this image."}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL}, logx.Nop())
	if _, err := c.ExtractScheduleCSV(context.Background(), []byte("img")); err == nil {
		t.Fatal("non-CSV model output accepted")
	}
}

func TestExtractScheduleCSVNoKey(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop())
	if c.Enabled() {
		t.Error("client without key reports enabled")
	}
	if _, err := c.ExtractScheduleCSV(context.Background(), nil); err != ErrNoAPIKey {
		t.Errorf("got %v, want ErrNoAPIKey", err)
	}
}
