// Package apis exposes the relay (probe validation + handshake re-wrap + bidirectional relay)
// as a small Go API so it can be embedded by other projects.
//
// Key entry points:
//   - ProtocolConfig / DefaultConfig: describe all required parameters.
//   - Serve: run the full relay on an existing listener.
//   - ServerHandshake: validate the opening probe of an accepted connection and return the
//     requested target plus the re-wrapped bytes destined for the backend.
//   - Dial: client-side helper that connects to a relay and sends a probe for cfg.Target.
//   - ConfigFromShareLink: build a client config from a tg://proxy link.
//
// Rejected connections are closed without a single byte written back, so callers that
// embed ServerHandshake should do the same.
package apis
