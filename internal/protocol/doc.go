// Package protocol models the JSON events exchanged with the realtime endpoint
// over the "oai-events" data channel.
package protocol
