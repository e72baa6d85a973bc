package port

import (
	"context"
	"errors"
)

// ErrDeliveryUnknown marks a send abandoned after the transport took the
// message, so it may or may not have been delivered.
var ErrDeliveryUnknown = errors.New("delivery outcome unknown")

type Message struct {
	Subject string
	Body    string
}

type MailTransport interface {
	// Send delivers one message to every recipient in a single call
	Send(ctx context.Context, recipients []string, msg Message) error
}
