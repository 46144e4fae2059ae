// Package session manages the lifecycle of external chat-account sessions.
//
// # Overview
//
// The session package is the coordination layer of funnel-gateway. Each
// session represents one connected chat account: the Manager owns every
// live Session, its per-session task queue, and the lifecycle loop that
// dials the transport, consumes its events and decides on reconnects.
//
// # Lifecycle
//
// A session moves through a small state machine:
//
//	connecting -> awaiting_scan -> connected -> disconnected
//
// plus a terminal "deleting" state that absorbs all further transitions.
// Transitions are driven by transport events:
//
//   - A pairing challenge moves the session to awaiting_scan and the
//     challenge is broadcast to UI clients verbatim.
//   - An authenticated open moves it to connected and publishes the
//     account identity.
//   - A closure either ends the session (explicit logout, or durable
//     credentials gone) or triggers an in-place reconnect with bounded
//     exponential backoff.
//
// Delete is initiated by the operator and wins over everything: the
// deleting state is set before the transport is torn down, so no event
// observed during teardown can resurrect the session.
//
// # Inbound Pipeline
//
// Inbound messages flow through a fixed pipeline: filter (direct chats
// only, no self-sent, no empty text), record into the conversation
// service, then, when the bot is enabled and has a credential, enqueue a
// reply task on the session's queue. The task captures the conversation
// history as it stood before the triggering message; the queue's cooldown
// paces provider calls. A failed or empty generation drops the reply, it
// never reaches the chat.
//
// # Manual Operation
//
// While the bot is disabled the operator can send text, media and button
// messages through the Manager. Manual sends are rejected with
// ErrBotEnabled while the bot is active; the two modes are mutually
// exclusive per session.
package session
