// Package storage persists roombot's configuration document: scheduled
// messages, joined rooms, auto-transcribe rooms and the job id counter.
//
// ConfigStore keeps the document in memory behind one mutation lock and writes
// it through a Backend on every change:
//   - "file": a single JSON document replaced atomically (tmp + rename)
//   - "sqlite": a single-row document table in a SQLite database
package storage
