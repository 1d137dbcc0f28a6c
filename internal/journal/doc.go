// Package journal persists the console's realtime channel to Postgres.
//
// The Writer buffers inbound frames, batches them, and inserts with
// ON CONFLICT DO NOTHING so a replayed frame never duplicates a row. It does
// not interpret role or metadata; frames are stored as delivered.
package journal
