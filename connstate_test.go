package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_connState_String(t *testing.T) {
	assert.Equal(t, "ACCEPT", stateAccepted.String())
	assert.Equal(t, "CLOSED", stateClosed.String())
	assert.Equal(t, "99", connState(99).String())
}

func Test_stateVar_ClosedIsFinal(t *testing.T) {
	var sv stateVar
	assert.Equal(t, stateAccepted, sv.get())
	sv.set(stateRouting)
	assert.Equal(t, stateRouting, sv.get())
	assert.True(t, sv.closing())
	assert.False(t, sv.closing())
	sv.set(stateAwaitFrame)
	assert.Equal(t, stateClosed, sv.get())
}

func Test_Transport_Parse(t *testing.T) {
	for _, tr := range []Transport{TransportTCP, TransportTLS, TransportWebSocket, TransportWebSocketTLS} {
		got, err := ParseTransport(tr.String())
		assert.NoError(t, err)
		assert.Equal(t, tr, got)
	}
	got, err := ParseTransport(" WSS ")
	assert.NoError(t, err)
	assert.Equal(t, TransportWebSocketTLS, got)
	assert.True(t, got.Secure())
	assert.True(t, got.WebSocket())
	assert.False(t, TransportTLS.WebSocket())
	assert.False(t, TransportWebSocket.Secure())

	_, err = ParseTransport("udp")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Transport(42).String())
}
