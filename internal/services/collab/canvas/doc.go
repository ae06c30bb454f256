// Package canvas models the shared drawing surface of a room: versioned
// elements, collaborator change records, session pseudonyms, and the
// all-or-nothing reconciliation that decides whether an incoming snapshot
// replaces the persisted one.
//
// Everything here is pure. Persistence and transport live in sibling
// packages.
package canvas
