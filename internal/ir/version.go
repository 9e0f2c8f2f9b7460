package ir

// Version constants for the row encoding and the module.
const (
	// FormatVersion is bumped whenever canonical row or digest encoding changes.
	// Stored in SQLite as PRAGMA user_version.
	FormatVersion = 1

	// Version is the relbind release version.
	Version = "0.1.0"
)
