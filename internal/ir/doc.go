// Package ir provides the value model shared by every relbind package.
//
// This package contains value, row and scheme definitions only. All other
// internal packages import ir; ir imports nothing internal, which keeps it the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - A row is an IRObject keyed by attribute name
//   - Row identity is the canonical encoding of the scheme's key attributes
//   - Snapshot digests are computed over canonical JSON (see MarshalCanonical)
package ir
