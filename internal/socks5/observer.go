package socks5

import (
	"net"
	"time"
)

// TerminationReason classifies why a Connection reached Terminated, for
// the Observer hook and MetricsSink labels.
type TerminationReason string

const (
	ReasonRelayComplete    TerminationReason = "relay_complete"
	ReasonNoAcceptableAuth TerminationReason = "no_acceptable_auth"
	ReasonAuthFailed       TerminationReason = "auth_failed"
	ReasonProtocolError    TerminationReason = "protocol_error"
	ReasonPolicyRejected   TerminationReason = "policy_rejected"
	ReasonDialFailed       TerminationReason = "dial_failed"
	ReasonTransportError   TerminationReason = "transport_error"
	ReasonTimeout          TerminationReason = "timeout"
)

// TerminationEvent is the payload delivered when a Connection
// terminates, identifying it and the terminal reason.
type TerminationEvent struct {
	RemoteAddr net.Addr
	Reason     TerminationReason
	Err        error
	Duration   time.Duration
	BytesIn    int64 // client -> endpoint
	BytesOut   int64 // endpoint -> client
}

// Observer is notified once per Connection, when it terminates.
// Implementations must not block the caller for long; Server invokes
// Observer synchronously from the connection's own goroutine.
type Observer interface {
	ConnectionTerminated(TerminationEvent)
}

// ObserverFunc adapts a plain function to an Observer.
type ObserverFunc func(TerminationEvent)

func (f ObserverFunc) ConnectionTerminated(ev TerminationEvent) { f(ev) }

// NopObserver discards every event.
var NopObserver Observer = ObserverFunc(func(TerminationEvent) {})
