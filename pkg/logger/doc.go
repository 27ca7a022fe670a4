// Package logger builds configured log/slog loggers for the engine.
//
// The engine logs sparingly: persistence corruption recoveries, invalid
// configuration at startup, and debug traces of rule decisions. JSON format
// suits server-side log aggregation; text suits local development.
package logger
