package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"attendbot/internal/registry"
	"attendbot/internal/timetable"
	kit "attendbot/internal/transport"
	logx "attendbot/pkg/logx"
)

func (s *Service) cmdHelp(ctx context.Context, msg *kit.Message) {
	s.reply(ctx, msg.ChatID,
		"hi hi~ 💫\n\n"+
			"Here's what I can do for you:\n"+
			"• <b>/help</b> – show this help message\n"+
			"• <b>/setup</b> – link your SPADA account\n"+
			"• <b>/mystatus</b> – show your SPADA user, schedule, and pause status\n"+
			"• <b>/pause</b> – pause attendance indefinitely\n"+
			"• <b>/resume</b> – resume attendance if paused\n"+
			"• <b>/pauseonce</b> – skip attendance for your next class\n"+
			"• <b>/delete</b> – remove your saved credentials\n"+
			"• <b>/schedule</b> – manage your class schedule (upload/view/delete)\n"+
			"• <b>/cancel</b> – cancel any ongoing action\n")
}

func (s *Service) cmdSetup(ctx context.Context, msg *kit.Message) {
	if _, err := s.accounts.FindByChat(msg.ChatID); err == nil {
		s.reply(ctx, msg.ChatID, "⚠️ you already saved credentials. use /delete first if you want to replace.")
		return
	}
	s.sessions.put(msg.ChatID, &session{state: stateAwaitUsername})
	s.reply(ctx, msg.ChatID, "🟢 what's your SPADA username?")
}

func (s *Service) continueConversation(ctx context.Context, msg *kit.Message, sess *session, text string) {
	switch sess.state {
	case stateAwaitUsername:
		if text == "" {
			s.reply(ctx, msg.ChatID, "⚠️ username can't be empty. try again or /cancel.")
			return
		}
		sess.username = text
		sess.state = stateAwaitPassword
		s.sessions.put(msg.ChatID, sess)
		s.reply(ctx, msg.ChatID,
			"🔐 what's your SPADA password?\n\n"+
				"<b>warning:</b> it's stored in plain text. use a unique password.")

	case stateAwaitPassword:
		username := sess.username
		s.sessions.clear(msg.ChatID)
		if _, err := s.accounts.Add(username, text, msg.ChatID); err != nil {
			s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ couldn't save credentials: %v", err))
			return
		}
		s.reply(ctx, msg.ChatID, "✅ credentials saved!")
		s.reply(ctx, msg.ChatID, "💡 don't forget to upload your schedule with <b>/schedule</b> → <i>Upload Schedule</i>.")
	}
}

func (s *Service) cmdMyStatus(ctx context.Context, msg *kit.Message) {
	acct, err := s.accounts.FindByChat(msg.ChatID)
	if err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ No linked SPADA user found.")
		return
	}

	state := "▶️ Active"
	paused, err := s.eng.Pauses().IsIndefinite(ctx, acct.Username)
	switch {
	case err != nil:
		s.log.Warn("pause lookup failed", logx.Err(err))
	case paused:
		state = "⏸️ Paused indefinitely"
	default:
		once, err := s.eng.Pauses().OnceCourses(ctx, acct.Username)
		if err != nil {
			s.log.Warn("once-pause lookup failed", logx.Err(err))
		} else if len(once) > 0 {
			course := strings.ReplaceAll(once[0], "_", " ")
			state = fmt.Sprintf("⏸️ Next class (%s) will be skipped", course)
		}
	}

	s.reply(ctx, msg.ChatID, fmt.Sprintf(
		"👤 <b>SPADA User:</b> %s\n📂 <b>Schedule:</b> %s\n⏱️ <b>Status:</b> %s",
		acct.Username, acct.ScheduleFile, state))
}

// cmdPause sets the indefinite pause. The two pause kinds are mutually
// exclusive from the command side; /resume is the single escape hatch.
func (s *Service) cmdPause(ctx context.Context, msg *kit.Message) {
	acct, err := s.accounts.FindByChat(msg.ChatID)
	if err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ no linked SPADA user found.")
		return
	}
	pauses := s.eng.Pauses()
	if paused, err := pauses.IsIndefinite(ctx, acct.Username); err == nil && paused {
		s.reply(ctx, msg.ChatID, "⚠️ you are already paused indefinitely. Use /resume to clear it before pausing again.")
		return
	}
	if once, err := pauses.OnceCourses(ctx, acct.Username); err == nil && len(once) > 0 {
		s.reply(ctx, msg.ChatID, "⚠️ you have a one-time pause active. Use /resume to clear it before pausing indefinitely.")
		return
	}
	if err := pauses.SetIndefinite(ctx, acct.Username); err != nil {
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ couldn't set pause: %v", err))
		return
	}
	s.reply(ctx, msg.ChatID, "⏸️ attendance paused indefinitely. use /resume to re-enable.")
}

func (s *Service) cmdResume(ctx context.Context, msg *kit.Message) {
	acct, err := s.accounts.FindByChat(msg.ChatID)
	if err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ no linked SPADA user found.")
		return
	}
	if err := s.eng.Pauses().ClearAll(ctx, acct.Username); err != nil {
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ couldn't clear pauses: %v", err))
		return
	}
	s.reply(ctx, msg.ChatID, "▶️ attendance resumed.")
}

func (s *Service) cmdPauseOnce(ctx context.Context, msg *kit.Message) {
	acct, err := s.accounts.FindByChat(msg.ChatID)
	if err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ no linked SPADA user or schedule.")
		return
	}
	pauses := s.eng.Pauses()
	if paused, err := pauses.IsIndefinite(ctx, acct.Username); err == nil && paused {
		s.reply(ctx, msg.ChatID, "⚠️ you are already paused indefinitely. Use /resume to clear it before pausing once.")
		return
	}
	if once, err := pauses.OnceCourses(ctx, acct.Username); err == nil && len(once) > 0 {
		s.reply(ctx, msg.ChatID, "⚠️ you already have a one-time pause active. Use /resume to clear it before pausing once again.")
		return
	}

	tt, err := timetable.Load(acct.ScheduleFile)
	if err != nil {
		s.reply(ctx, msg.ChatID, "⚠️ no schedule saved yet. upload one with /schedule first.")
		return
	}
	next := tt.Next(s.now())
	if next == nil {
		s.reply(ctx, msg.ChatID, "ℹ️ no upcoming class found to pause.")
		return
	}
	if err := pauses.SetOnce(ctx, acct.Username, next.Course); err != nil {
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ couldn't set pause: %v", err))
		return
	}
	s.reply(ctx, msg.ChatID, fmt.Sprintf("⏸️ next class <b>%s</b> will be skipped.", next.Course))
}

// cmdDelete removes the account, its timetable file, and every flag that
// mentions it, so a later /setup starts clean.
func (s *Service) cmdDelete(ctx context.Context, msg *kit.Message) {
	acct, err := s.accounts.DeleteByChat(msg.ChatID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.reply(ctx, msg.ChatID, "⚠️ no credentials found to delete.")
			return
		}
		s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ delete failed: %v", err))
		return
	}
	s.sessions.clear(msg.ChatID)
	if err := s.eng.Pauses().ClearAll(ctx, acct.Username); err != nil {
		s.log.Warn("pause cleanup failed", logx.String("account", acct.Username), logx.Err(err))
	}
	s.clearAttendanceFlags(ctx, acct.Username)
	s.reply(ctx, msg.ChatID, "🗑️ credentials, schedule, and flags deleted.")
}

func (s *Service) clearAttendanceFlags(ctx context.Context, username string) {
	for _, prefix := range []string{"success_" + username + "_", "retry_" + username + "_"} {
		keys, err := s.flags.ListByPrefix(ctx, prefix)
		if err != nil {
			s.log.Warn("flag cleanup list failed", logx.String("prefix", prefix), logx.Err(err))
			continue
		}
		for _, k := range keys {
			if err := s.flags.Delete(ctx, k); err != nil {
				s.log.Warn("flag cleanup delete failed", logx.String("key", k), logx.Err(err))
			}
		}
	}
}

func (s *Service) cmdCancel(ctx context.Context, msg *kit.Message) {
	s.sessions.clear(msg.ChatID)
	s.reply(ctx, msg.ChatID, "❌ cancelled. I'm still here if you need me~")
}

// cmdStatus is owner-only operational visibility: the last pass report and
// recent notification history size.
func (s *Service) cmdStatus(ctx context.Context, msg *kit.Message) {
	if s.cfg.OwnerChatID == 0 || msg.ChatID != s.cfg.OwnerChatID {
		s.reply(ctx, msg.ChatID, "🤔 I don't know that one. Try /help.")
		return
	}
	r := s.eng.Report()
	if r.Started.IsZero() {
		s.reply(ctx, msg.ChatID, "ℹ️ no pass has run yet.")
		return
	}
	s.reply(ctx, msg.ChatID, fmt.Sprintf(
		"🩺 <b>Last pass</b> %s (%s)\n"+
			"accounts: %d, skipped: %d, dispatched: %d\n"+
			"succeeded: %d, failed: %d",
		r.Started.Format("15:04:05"), r.Duration.Round(time.Millisecond),
		r.Accounts, r.Skipped, r.Dispatch, r.Succeeded, r.Failed))
}
