// Package journal persists pushed events to a local SQLite database so a
// listening session survives scrollback.
//
// It owns the schema, a file lock serializing writers, and the pruning
// policy. The journal is strictly an observer: recording never feeds back
// into the transport, and a journal failure never interrupts delivery.
package journal
