// Package server hosts the collab HTTP and websocket surface: live room
// sessions that fan canvas updates out to peers and persist them, and
// replay sessions that play a room's history back to privileged observers.
//
// Identity is delegated to an external launch subsystem that hands the
// browser a signed token; this package only verifies it.
package server
