package packet

import "fmt"

// Kind classifies a packet-processor error per the error-kind table in §7.
// Every Kind carries an explicit recovery policy via Retryable/Fatal rather
// than leaving callers to infer it from a string.
type Kind int

const (
	// KindUndecodable: the Sphinx MAC failed, or the packet was
	// malformed. Drop silently; no acknowledgement is sent.
	KindUndecodable Kind = iota

	// KindBloomReplay: the packet's tag was already present in the
	// replay filter (or a false positive). Drop silently, metric only.
	KindBloomReplay

	// KindTicketInvalid: the inbound ticket failed a conjunctive
	// validation rule (§4.1). The packet is dropped, but an
	// acknowledgement is still sent so the previous hop cannot
	// distinguish ticket rejection from ordinary relay failure: RecvData
	// returns that acknowledgement in IncomingPacket.AckToSend alongside
	// this error.
	KindTicketInvalid

	// KindOutOfFunds: issuing the next-hop ticket would exceed the
	// unrealized-value invariant. Surfaces to the sender on an outgoing
	// build; fatal to that send_data call only.
	KindOutOfFunds

	// KindChannelNotFound: no open channel exists toward the resolved
	// next hop. Surfaces to the sender; fatal to that send_data call.
	KindChannelNotFound

	// KindResolverTimeout: the key resolver or channel ledger did not
	// respond within its bounded time. Transient; retry with bounded
	// backoff at the caller's discretion.
	KindResolverTimeout

	// KindInvalidState: a local invariant was violated (e.g. an
	// Acknowledgement for an unknown challenge). Fatal to the current
	// request, never to the node.
	KindInvalidState

	// KindNotEnoughSurbs: a Return send named a pseudonym/SurbId this node
	// has no stored SURB material for, either because none was ever
	// received or it was already consumed. Fatal to that send_data call.
	KindNotEnoughSurbs
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindUndecodable:
		return "undecodable"
	case KindBloomReplay:
		return "bloom_replay"
	case KindTicketInvalid:
		return "ticket_invalid"
	case KindOutOfFunds:
		return "out_of_funds"
	case KindChannelNotFound:
		return "channel_not_found"
	case KindResolverTimeout:
		return "resolver_timeout"
	case KindInvalidState:
		return "invalid_state"
	case KindNotEnoughSurbs:
		return "not_enough_surbs"
	default:
		return "unknown"
	}
}

// Error is the packet processor's single structured error type (§7): a Kind
// plus a human reason and, where relevant, the cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("packet: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("packet: %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller should retry with bounded
// exponential backoff (§7: base 2s, cap 30m) rather than drop the request.
func (e *Error) Retryable() bool {
	return e.Kind == KindResolverTimeout
}

// Silent reports whether this error must never produce an acknowledgement
// back toward the previous hop (§4.1: undecodable and replayed packets are
// dropped with no trace at all).
func (e *Error) Silent() bool {
	return e.Kind == KindUndecodable || e.Kind == KindBloomReplay
}

func newErr(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}
