package agent

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/brojonat/pathos/client"
)

const (
	relayConfigMessage  = "I'm having trouble communicating with my API. There seems to be a configuration issue with the server. The team has been notified."
	relayAPIMessage     = "I'm having trouble accessing my AI capabilities right now. This could be due to network issues or server load. Please try again in a moment."
	relayNetworkMessage = "I'm having trouble connecting to my servers. Please check your internet connection and try again."
	relayTimeoutMessage = "The request took too long to process. This might be due to high server load. Please try again in a moment."
	relayDefaultMessage = "I'm sorry, I encountered an error processing your request. Please try again."
)

// RelayErrorMessage maps a relay failure onto what the user is told.
func RelayErrorMessage(err error) string {
	var (
		relayErr *client.RelayError
		netErr   net.Error
		urlErr   *url.Error
	)
	switch {
	case errors.Is(err, client.ErrMethodNotAllowed):
		return relayConfigMessage
	case errors.As(err, &relayErr):
		return relayAPIMessage
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return relayTimeoutMessage
	case errors.As(err, &urlErr):
		return relayNetworkMessage
	default:
		return relayDefaultMessage
	}
}
