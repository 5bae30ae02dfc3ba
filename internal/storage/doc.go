// Package storage keeps the delivery journal: one record per webhook POST
// attempt made by a relay, successful or not.
//
// Two drivers exist:
//   - "file": append-only JSON Lines, no dependencies
//   - "sqlite": a SQLite database (pure Go driver)
//
// The journal is an audit trail. It is never replayed into a relay; undelivered
// events are not persisted.
package storage
