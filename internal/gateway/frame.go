package gateway

import (
	"fmt"

	"github.com/tidwall/gjson"

	"ex-mirror/pkg/mirror"
)

// DecodeFrame peeks the discriminant of one JSON frame and wraps the frame
// as an envelope. The payload itself is decoded later by the router.
func DecodeFrame(frame []byte) (mirror.Envelope, error) {
	if !gjson.ValidBytes(frame) {
		return mirror.Envelope{}, &mirror.ProtocolError{
			Err: fmt.Errorf("%w: frame is not valid json", mirror.ErrMalformedEvent),
		}
	}

	discriminant := gjson.GetBytes(frame, "type")
	if discriminant.Type != gjson.String || discriminant.Str == "" {
		return mirror.Envelope{}, &mirror.ProtocolError{
			Err: fmt.Errorf("%w: frame has no type", mirror.ErrMalformedEvent),
		}
	}

	data := make([]byte, len(frame))
	copy(data, frame)

	return mirror.Envelope{Type: discriminant.Str, Data: data}, nil
}
