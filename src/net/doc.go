// Package net implements the transports devices use to run sync sessions.
//
// A session is a short conversation of three request types. TreeRequest walks
// the responder's hash tree one level at a time, FetchRequest pulls the
// records the initiator is missing, and PushRequest hands over the records the
// responder is missing. Incoming requests are delivered on the Consumer
// channel and answered through RPC.Respond.
//
// Two implementations are provided:
//
// - Inmem: in-memory transport used for testing
//
// - TCP: msgpack framed requests over plain TCP, with a per-target connection
// pool. Devices on the same shop network reach each other directly; the
// address to dial is learned from discovery announcements.
package net
