package room

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrConnectionGone reports that the peer behind a connection id no longer
// accepts deliveries. Fanout converts it into store cleanup; every other
// transport error is surfaced to the caller.
var ErrConnectionGone = errors.New("room: connection gone")

// Transport delivers a payload to a single live connection.
type Transport interface {
	Send(ctx context.Context, connectionID string, payload []byte) error
}

// sendJSON marshals the payload and delivers it to one connection.
func sendJSON(ctx context.Context, transport Transport, connectionID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return transport.Send(ctx, connectionID, data)
}
