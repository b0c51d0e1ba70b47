// Package logx configures NyamNyamPing's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog and keeps:
//   - console output short (compact timestamp and file:line caller)
//   - file output as JSON lines
//   - an optional chat sink that forwards warnings to an operator channel
package logx
