package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		"event: connected",
		`data: {"subjects":["wallet.>","transfer.>"]}`,
		"",
		": keepalive",
		"",
		"event: wallet",
		`data: {"kind":"connected"}`,
		"",
		`data: {"orphan":true}`,
		"",
	}, "\n")

	type got struct{ event, data string }
	var events []got
	err := readSSE(strings.NewReader(stream), func(event, data string) error {
		events = append(events, got{event, data})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []got{
		{"connected", `{"subjects":["wallet.>","transfer.>"]}`},
		{"wallet", `{"kind":"connected"}`},
		{"message", `{"orphan":true}`},
	}, events)
}

func TestReadSSE_HandlerErrorStops(t *testing.T) {
	stream := "event: error\ndata: {\"error\":\"failed to subscribe\"}\n\nevent: wallet\ndata: {}\n\n"

	calls := 0
	err := readSSE(strings.NewReader(stream), func(event, data string) error {
		calls++
		return handleSSEEvent(event, data, true)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error: failed to subscribe")
	assert.Equal(t, 1, calls)
}

func TestHandleSSEEvent_Unknown(t *testing.T) {
	assert.NoError(t, handleSSEEvent("mystery", "{}", false))
	assert.Error(t, handleSSEEvent("connected", "not json", false))
}
