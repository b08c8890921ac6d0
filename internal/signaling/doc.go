// Package signaling negotiates the WebRTC connection to the realtime model
// endpoint: it fetches a one-time credential from the broker, builds the peer
// connection with its audio tracks and events DataChannel, and exchanges the
// SDP offer/answer over HTTP.
package signaling
