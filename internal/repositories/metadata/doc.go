// Package metadata implements the key-value backend behind the resumable
// transfer state: a SQLite repository for durable local state and an
// in-memory repository for tests and ephemeral runs.
//
// Open creates or opens the SQLite file and applies the embedded goose
// migrations before returning the handle.
package metadata
