// Package logging builds the slog.Logger used by clonepilot binaries from
// the logging section of the configuration: JSON lines when format is
// "json", a compact colorized handler otherwise.
package logging
