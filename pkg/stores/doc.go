// Package stores provides persistent state for sync runs: the virtual
// tag assignments last applied per resource, sync and upload history,
// discovered physical tags and daily aggregates. The backing store is
// SQLite with schema migrations embedded in the binary.
package stores
