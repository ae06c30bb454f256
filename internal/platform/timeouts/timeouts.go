// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// WebsocketWrite bounds a single frame write to a websocket peer.
const WebsocketWrite = 10 * time.Second

// ReplaySettle is the pause before a replay starts so the observer client can
// finish its own setup.
const ReplaySettle = 100 * time.Millisecond
