package streaming

import "time"

// SilenceTolerance is the multiple of the incoming interval a peer may
// stay silent before the session is declared dead.
const SilenceTolerance = 2

// Contract is the negotiated pair of keep-alive intervals of one
// connection. A zero interval disables that direction.
type Contract struct {
	Outgoing time.Duration
	Incoming time.Duration
}

// Proposal is the heartbeat pair announced by the peer, from the peer's
// point of view: how often it can send, and how often it wants to receive.
type Proposal struct {
	PeerOutgoing time.Duration
	PeerIncoming time.Duration
}

// Negotiate computes the contract for one connection. Each direction takes
// the larger of the local default and the matching peer value; a zero on
// either side disables it.
func Negotiate(local Contract, peer Proposal) Contract {
	return Contract{
		Outgoing: negotiateDirection(local.Outgoing, peer.PeerIncoming),
		Incoming: negotiateDirection(local.Incoming, peer.PeerOutgoing),
	}
}

func negotiateDirection(local, peer time.Duration) time.Duration {
	if local <= 0 || peer <= 0 {
		return 0
	}
	return max(local, peer)
}

// SilenceLimit is the longest allowed gap between inbound messages, or 0
// when incoming heartbeats are disabled.
func (c Contract) SilenceLimit() time.Duration {
	return SilenceTolerance * c.Incoming
}
