package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateServerProposal(t *testing.T) {
	local := Contract{Outgoing: 15 * time.Second, Incoming: 15 * time.Second}
	// CONNECTED heart-beat: 10000,5000
	got := Negotiate(local, Proposal{PeerOutgoing: 10 * time.Second, PeerIncoming: 5 * time.Second})
	assert.Equal(t, Contract{Outgoing: 15 * time.Second, Incoming: 15 * time.Second}, got)
}

func TestNegotiateZeroDisablesDirection(t *testing.T) {
	local := Contract{Outgoing: 15 * time.Second, Incoming: 15 * time.Second}

	got := Negotiate(local, Proposal{PeerOutgoing: 0, PeerIncoming: 20 * time.Second})
	assert.Equal(t, 20*time.Second, got.Outgoing)
	assert.Zero(t, got.Incoming)
	assert.Zero(t, got.SilenceLimit())

	got = Negotiate(Contract{Incoming: 15 * time.Second}, Proposal{PeerOutgoing: 30 * time.Second, PeerIncoming: 30 * time.Second})
	assert.Zero(t, got.Outgoing)
	assert.Equal(t, 30*time.Second, got.Incoming)
}

func TestNegotiateNeverBelowEitherSide(t *testing.T) {
	values := []time.Duration{0, time.Millisecond, 500 * time.Millisecond, 5 * time.Second, 15 * time.Second, time.Minute}
	for _, lo := range values {
		for _, li := range values {
			for _, po := range values {
				for _, pi := range values {
					c := Negotiate(Contract{Outgoing: lo, Incoming: li}, Proposal{PeerOutgoing: po, PeerIncoming: pi})
					if lo == 0 || pi == 0 {
						assert.Zero(t, c.Outgoing)
					} else {
						assert.GreaterOrEqual(t, c.Outgoing, lo)
						assert.GreaterOrEqual(t, c.Outgoing, pi)
					}
					if li == 0 || po == 0 {
						assert.Zero(t, c.Incoming)
					} else {
						assert.GreaterOrEqual(t, c.Incoming, li)
						assert.GreaterOrEqual(t, c.Incoming, po)
					}
				}
			}
		}
	}
}

func TestSilenceLimit(t *testing.T) {
	assert.Equal(t, 30*time.Second, Contract{Incoming: 15 * time.Second}.SilenceLimit())
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateDisconnected, StateConnecting))
	assert.True(t, canTransition(StateConnecting, StateAuthenticating))
	assert.True(t, canTransition(StateAuthenticating, StateReady))
	assert.True(t, canTransition(StateReady, StateClosing))
	assert.True(t, canTransition(StateClosing, StateDisconnected))
	assert.True(t, canTransition(StateReady, StateFailed))
	assert.True(t, canTransition(StateFailed, StateConnecting))

	assert.False(t, canTransition(StateDisconnected, StateReady))
	assert.False(t, canTransition(StateFailed, StateFailed))
	assert.False(t, canTransition(StateReady, StateAuthenticating))
	assert.Equal(t, "READY", StateReady.String())
}
