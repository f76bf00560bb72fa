// Package logx configures freestuffbot's structured logging.
//
// Components log through logx.Logger, a thin value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional Telegram sink mirrors warnings to the operator log chat
//     (min-level + rate limiting, never blocking the caller)
package logx
