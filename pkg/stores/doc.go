// Package stores persists project revisions and script runs in SQLite.
//
// The schema is managed with golang-migrate from the embedded migrations
// directory. Each project (keyed by name, usually its file path) owns an
// ordered list of revisions, each a full JSON snapshot, and a log of the
// scripts run against it.
package stores
