// Package logx is slackrelay's logging layer: a small value-type Logger over
// zerolog plus a Service that owns the process outputs.
//
// Outputs are a readable console (short timestamp and caller), an optional
// JSON file, and an optional relay sink that offers the process's own lines
// at or above a minimum level to a webhook relay.
package logx
