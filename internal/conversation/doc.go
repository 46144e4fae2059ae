// Package conversation tracks per-session chat conversations for the
// funnel board.
//
// A Record is one conversation: a bounded message history plus CRM
// metadata (title, funnel stage). The Service owns the session -> chat
// -> Record maps and applies the record-first principle: every mutation
// lands in memory first, is mirrored to the persistence adapter
// best-effort, and is then broadcast to UI clients. A flush failure is
// logged and the in-memory state stands; durability catches up on the
// next successful flush.
//
// Messages are normalized at the ingestion boundary: missing ids and
// timestamps are filled in and unknown directions are coerced to
// incoming, so malformed input is repaired rather than dropped.
package conversation
