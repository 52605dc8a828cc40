// Package logx is reportsched's structured logging wrapper around zerolog.
//
// Console output is human readable (short timestamp and caller), file
// output is JSON lines. A Logger obtained from a Service follows every
// Service.Apply, so sinks and levels can change while the process runs.
package logx
