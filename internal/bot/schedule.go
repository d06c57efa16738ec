package bot

import (
	"context"
	"fmt"
	"os"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "attendbot/internal/transport"
	"attendbot/internal/vision"
	logx "attendbot/pkg/logx"
)

// Callback keys for the schedule menu buttons.
const (
	cbUpload    = "sch_upload"
	cbUploadCSV = "sch_upload_csv"
	cbView      = "sch_view"
	cbDelete    = "sch_delete"
	cbSave      = "sch_save"
	cbCancel    = "sch_cancel"
)

func scheduleMenu() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{
			{Text: "🖼 Upload Schedule", Data: cbUpload},
			{Text: "⬆️ Upload CSV", Data: cbUploadCSV},
			{Text: "📄 View Schedule", Data: cbView},
		},
		{
			{Text: "🗑 Delete Schedule", Data: cbDelete},
		},
	}}
}

func confirmMenu() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{
		{Text: "✅ Save", Data: cbSave},
		{Text: "❌ Cancel", Data: cbCancel},
	}}}
}

func (s *Service) cmdSchedule(ctx context.Context, msg *kit.Message) {
	if _, err := s.accounts.FindByChat(msg.ChatID); err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ run /setup first so I can link your schedule~")
		return
	}
	s.sendOpt(ctx, msg.ChatID, "📌 manage your schedule:", &kit.SendOptions{
		ParseMode:   "HTML",
		ReplyMarkup: scheduleMenu(),
	})
}

// handlePhoto runs the image upload branch: only after the user pressed
// Upload Schedule, and only for linked accounts.
func (s *Service) handlePhoto(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	sess := s.sessions.get(msg.ChatID)
	if sess == nil || sess.state != stateAwaitImage {
		return
	}
	if _, err := s.accounts.FindByChat(msg.ChatID); err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ run /setup first before sending your schedule.")
		return
	}

	data, err := s.adapter.DownloadFile(ctx, msg.FileID)
	if err != nil {
		s.sessions.clear(msg.ChatID)
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ couldn't download that image: %v", err))
		return
	}

	s.reply(ctx, msg.ChatID, "⏳ processing your schedule image… hold tight~")
	csvText, err := s.vision.ExtractScheduleCSV(ctx, data)
	if err != nil {
		s.sessions.clear(msg.ChatID)
		if err == vision.ErrEmpty {
			s.reply(ctx, msg.ChatID, "❌ I couldn't read any schedule from that image. try a clearer shot?")
			return
		}
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ error parsing schedule: <code>%v</code>", err))
		return
	}

	sess.state = stateNone
	sess.pendingCSV = csvText
	s.sessions.put(msg.ChatID, sess)

	err = s.adapter.SendDocument(ctx, kit.ChatTarget{ChatID: msg.ChatID},
		"schedule_preview.csv", []byte(csvText),
		"📄 here's what I extracted. save it?",
		&kit.SendOptions{ReplyMarkup: confirmMenu()})
	if err != nil {
		s.log.Warn("preview send failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

// handleDocument runs the direct CSV upload branch.
func (s *Service) handleDocument(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	sess := s.sessions.get(msg.ChatID)
	if sess == nil || sess.state != stateAwaitCSV {
		return
	}
	acct, err := s.accounts.FindByChat(msg.ChatID)
	if err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ run /setup first before sending your schedule.")
		return
	}
	if !strings.HasSuffix(strings.ToLower(msg.FileName), ".csv") {
		s.reply(ctx, msg.ChatID, "⚠️ please upload a CSV file.")
		return
	}

	data, err := s.adapter.DownloadFile(ctx, msg.FileID)
	if err != nil {
		s.sessions.clear(msg.ChatID)
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ couldn't download that file: %v", err))
		return
	}
	text := string(data)
	if err := vision.ValidateCSV(text); err != nil {
		s.sessions.clear(msg.ChatID)
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ %v", err))
		return
	}

	s.sessions.clear(msg.ChatID)
	if err := os.WriteFile(acct.ScheduleFile, []byte(text), 0o644); err != nil {
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ failed to save: <code>%v</code>", err))
		return
	}
	s.reply(ctx, msg.ChatID, fmt.Sprintf("✅ schedule saved to <code>%s</code>", acct.ScheduleFile))
}

func (s *Service) handleCallback(ctx context.Context, cb *kit.Callback) {
	if cb == nil {
		return
	}
	answer := func(text string) {
		if err := s.adapter.AnswerCallback(ctx, cb.ID, text); err != nil {
			s.log.Debug("callback answer failed", logx.Err(err))
		}
	}

	acct, err := s.accounts.FindByChat(cb.ChatID)
	if err != nil {
		answer("Please run /setup first.")
		return
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch cb.Data {
	case cbUpload:
		if !s.vision.Enabled() {
			answer("Image parsing is not configured.")
			s.reply(ctx, cb.ChatID, "⚠️ image parsing is disabled on this bot. use <b>Upload CSV</b> instead.")
			return
		}
		s.sessions.put(cb.ChatID, &session{state: stateAwaitImage})
		s.dropMarkup(ctx, ref)
		answer("Ready for your image!")
		s.reply(ctx, cb.ChatID, "🖼 please send me your <b>schedule image</b> now.")

	case cbUploadCSV:
		s.sessions.put(cb.ChatID, &session{state: stateAwaitCSV})
		s.dropMarkup(ctx, ref)
		answer("Ready for your CSV!")
		s.reply(ctx, cb.ChatID, "⬆️ please send me your <b>CSV schedule file</b> now.")

	case cbView:
		data, err := os.ReadFile(acct.ScheduleFile)
		if err != nil || len(data) == 0 {
			answer("No schedule saved yet.")
			return
		}
		answer("Sending your current schedule.")
		if err := s.adapter.SendDocument(ctx, kit.ChatTarget{ChatID: cb.ChatID},
			"schedule.csv", data, "📄 your current saved schedule.", nil); err != nil {
			s.log.Warn("schedule send failed", logx.Err(err))
		}

	case cbDelete:
		// Truncate rather than remove so the registry's path stays valid.
		if err := os.WriteFile(acct.ScheduleFile, nil, 0o644); err != nil {
			answer("Failed to delete.")
			s.reply(ctx, cb.ChatID, fmt.Sprintf("❌ couldn't delete: <code>%v</code>", err))
			return
		}
		answer("Schedule deleted.")
		s.reply(ctx, cb.ChatID, "🗑 schedule deleted.")

	case cbSave:
		sess := s.sessions.get(cb.ChatID)
		if sess == nil || sess.pendingCSV == "" {
			answer("Nothing to save.")
			return
		}
		if err := os.WriteFile(acct.ScheduleFile, []byte(sess.pendingCSV), 0o644); err != nil {
			answer("Save failed.")
			s.reply(ctx, cb.ChatID, fmt.Sprintf("❌ failed to save: <code>%v</code>", err))
			return
		}
		s.sessions.clear(cb.ChatID)
		answer("Saved!")
		s.dropMarkup(ctx, ref)
		s.reply(ctx, cb.ChatID, fmt.Sprintf("✅ schedule saved to <code>%s</code>", acct.ScheduleFile))

	case cbCancel:
		s.sessions.clear(cb.ChatID)
		answer("Discarded.")
		s.dropMarkup(ctx, ref)
		s.reply(ctx, cb.ChatID, "❌ discarded the extracted schedule.")
	}
}

func (s *Service) dropMarkup(ctx context.Context, ref kit.MessageRef) {
	if err := s.adapter.EditMarkup(ctx, ref, nil); err != nil {
		s.log.Debug("markup removal failed", logx.Err(err))
	}
}
