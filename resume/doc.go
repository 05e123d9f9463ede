// Package resume implements the keyed snapshot store that lets a later
// call with the same opaque thread identifier continue a run from its last
// durable state instead of restarting. Two backends are provided: a
// volatile in-memory store and a SQLite-backed store.
package resume
