package mirror

import "encoding/json"

// Wire discriminants that drive the connection lifecycle rather than the cache.
const (
	EnvelopeBulk          = "Bulk"
	EnvelopeAuthenticated = "Authenticated"
	EnvelopeReady         = "Ready"
	EnvelopeError         = "Error"
	EnvelopePong          = "Pong"
)

// Envelope is one decoded unit of the event stream. Data holds the complete
// frame, discriminant included.
type Envelope struct {
	Type string
	Data json.RawMessage
}
