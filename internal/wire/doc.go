// Package wire frames and classifies the newline-delimited JSON documents
// exchanged with the daemon.
//
// It owns the two routing fields the transport cares about: the correlation
// "id" echoed on responses and the "type" discriminator carried by pushed
// events. Everything else in a document is opaque payload handed to callers
// verbatim, so daemon vocabularies can evolve without touching this package.
package wire
