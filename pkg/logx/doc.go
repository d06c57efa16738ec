// Package logx is attendbot's structured logging layer.
//
// It wraps zerolog behind a small Logger type whose sinks can be swapped at
// runtime via Service.Apply:
//   - Console (human-friendly writer)
//   - File (JSON lines)
//   - Telegram (rate-limited, via the transport Adapter)
//
// The Telegram sink exists for operator visibility and should be configured
// with a min_level of WARN or higher to keep the chat usable.
package logx
