// Package logx configures roombot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional room sink that mirrors WARN+ lines into a chat room
//     (min-level + rate limiting, never blocks the caller)
package logx
