package socks5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Config holds the immutable, per-listener settings a Connection is
// bound to. It is constructed once by the internal/config package and
// shared by every Connection the listener accepts.
type Config struct {
	// ListenAddress is where the listener binds: NewListener opens its
	// socket on this address, and it also appears in log messages.
	ListenAddress string

	// AuthMethods is the registered, ordered set of method-ids this
	// listener accepts. Selection scans the client's offered list in
	// order and picks the first one present here.
	AuthMethods []byte

	// CredentialStore is required iff MethodUserPass is in AuthMethods.
	CredentialStore CredentialStore

	// HandshakeReadTimeout bounds each framed read during the
	// greeting/auth/request phases. Default 10s.
	HandshakeReadTimeout time.Duration

	// DialTimeout bounds the outbound connect. Default 30s.
	DialTimeout time.Duration

	// SupportedCommands restricts which CMD values get past the
	// request phase; anything else replies RepCommandNotSupported.
	// Default {CmdConnect}.
	SupportedCommands map[byte]struct{}

	// OutboundBindIP, if set, is the local address the dialer binds
	// to when connecting to the destination.
	OutboundBindIP net.IP

	// RelayBandwidthLimit caps relay throughput per direction in
	// bytes/sec; 0 means unlimited.
	RelayBandwidthLimit int64

	Logger   *slog.Logger
	Observer Observer
	Metrics  MetricsSink
}

// MetricsSink is the subset of observability the socks5 package emits
// into; internal/metrics implements it against Prometheus collectors.
// Kept as an interface here so this package has no Prometheus import.
type MetricsSink interface {
	ConnectionOpened()
	ConnectionClosed(reason TerminationReason)
	AuthResult(method byte, ok bool)
	BytesRelayed(clientToEndpoint, endpointToClient int64)
	DialResult(rep byte)
}

// NopMetrics discards every observation.
var NopMetrics MetricsSink = nopMetrics{}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened()                  {}
func (nopMetrics) ConnectionClosed(TerminationReason) {}
func (nopMetrics) AuthResult(byte, bool)              {}
func (nopMetrics) BytesRelayed(int64, int64)          {}
func (nopMetrics) DialResult(byte)                    {}

func (c *Config) registeredMethods() map[byte]struct{} {
	set := make(map[byte]struct{}, len(c.AuthMethods))
	for _, m := range c.AuthMethods {
		if m == MethodNoAcceptable {
			continue
		}
		set[m] = struct{}{}
	}
	return set
}

// commandSupported reports whether cmd may proceed past the request
// phase. Only CmdConnect ever can: BIND and UDP_ASSOCIATE have no
// dial/relay implementation, so they always get RepCommandNotSupported
// regardless of what a Config's SupportedCommands contains.
func (c *Config) commandSupported(cmd byte) bool {
	if cmd != CmdConnect {
		return false
	}
	if len(c.SupportedCommands) == 0 {
		return true
	}
	_, ok := c.SupportedCommands[cmd]
	return ok
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) observer() Observer {
	if c.Observer != nil {
		return c.Observer
	}
	return NopObserver
}

func (c *Config) metrics() MetricsSink {
	if c.Metrics != nil {
		return c.Metrics
	}
	return NopMetrics
}

// Dialer dials the resolved destination for a CONNECT request. Server
// supplies one bound to OutboundBindIP with TCP_NODELAY/keepalive
// socket-option tuning applied; tests can substitute a fake.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connection is the state for one accepted client socket, owned
// exclusively by its FSM goroutine. The version/methods/etc. fields
// below are set once during the handshake and read-only afterward.
type Connection struct {
	cfg    *Config
	client net.Conn
	dialer Dialer

	version        byte
	offeredMethods []byte
	selectedMethod byte
	command        byte
	addrType       byte
	rawAddr        []byte
	host           string
	port           uint16

	startedAt time.Time
}

// NewConnection wraps an accepted client socket for handling by Serve.
func NewConnection(client net.Conn, cfg *Config, dialer Dialer) *Connection {
	return &Connection{client: client, cfg: cfg, dialer: dialer}
}

// Serve drives the Connection through its entire state machine —
// AwaitGreeting through Terminated — and always leaves both sockets
// closed on return, regardless of exit path.
func (c *Connection) Serve(ctx context.Context) {
	c.startedAt = time.Now()
	c.cfg.metrics().ConnectionOpened()
	defer c.client.Close()

	reason, stats, err := c.run(ctx)

	c.cfg.metrics().ConnectionClosed(reason)
	c.cfg.observer().ConnectionTerminated(TerminationEvent{
		RemoteAddr: c.client.RemoteAddr(),
		Reason:     reason,
		Err:        err,
		Duration:   time.Since(c.startedAt),
		BytesIn:    stats.ClientToEndpoint,
		BytesOut:   stats.EndpointToClient,
	})
	if err != nil {
		c.cfg.logger().Debug("connection terminated",
			"remote", c.client.RemoteAddr(), "reason", reason, "error", err)
	}
}

// run executes AwaitGreeting -> ... -> Relaying, returning the terminal
// reason and, if any, the error that drove it there. It never panics on
// a malformed client: every parse error is converted to a reason, and
// any protocol violation is fatal for that connection. Request-phase
// parse errors get a best-effort reply first; a malformed greeting or
// username/password frame closes the connection without one.
func (c *Connection) run(ctx context.Context) (TerminationReason, relayStats, error) {
	if err := c.awaitGreeting(); err != nil {
		reason, err := classifyHandshakeError(err)
		return reason, relayStats{}, err
	}

	if err := c.authenticate(); err != nil {
		if _, ok := err.(*AuthError); ok {
			return ReasonAuthFailed, relayStats{}, err
		}
		return ReasonProtocolError, relayStats{}, err
	}

	req, err := c.awaitRequest()
	if err != nil {
		reason, err := classifyHandshakeError(err)
		return reason, relayStats{}, err
	}

	endpoint, err := c.resolveAndDial(ctx, req)
	if err != nil {
		return ReasonDialFailed, relayStats{}, err
	}
	defer endpoint.Close()

	stats, relayErr := runRelay(ctx, c.client, endpoint, c.cfg.RelayBandwidthLimit)
	c.cfg.metrics().BytesRelayed(stats.ClientToEndpoint, stats.EndpointToClient)
	if relayErr != nil {
		return ReasonTransportError, stats, &TransportError{Err: relayErr}
	}
	return ReasonRelayComplete, stats, nil
}

func classifyHandshakeError(err error) (TerminationReason, error) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout, err
	}
	switch err.(type) {
	case *AuthError:
		return ReasonNoAcceptableAuth, err
	case *ProtocolError:
		return ReasonProtocolError, err
	case *PolicyError:
		return ReasonPolicyRejected, err
	}
	return ReasonProtocolError, err
}

// awaitGreeting reads the client's offered methods, selects one, and
// writes the method-selection reply. Selecting no acceptable method
// writes 0x05 0xFF and returns an error that terminates the
// connection, as RFC 1928 requires.
func (c *Connection) awaitGreeting() error {
	c.setHandshakeDeadline()

	greeting, err := readGreeting(c.client)
	if err != nil {
		return err
	}
	c.version = greeting.Version
	c.offeredMethods = greeting.Methods

	method, ok := selectMethod(greeting.Methods, c.cfg.registeredMethods())
	c.selectedMethod = method
	if !ok {
		writeMethodSelection(c.client, MethodNoAcceptable)
		return &AuthError{Reason: "no acceptable authentication method"}
	}

	return writeMethodSelection(c.client, method)
}

// authenticate instantiates the chosen AuthMethod and runs its
// negotiate phase.
func (c *Connection) authenticate() error {
	factory, ok := authRegistry[c.selectedMethod]
	if !ok {
		return &AuthError{Reason: fmt.Sprintf("method %#x has no registered handler", c.selectedMethod)}
	}

	c.setHandshakeDeadline()
	method := factory(c.cfg.CredentialStore)
	err := method.Negotiate(c.client)
	c.cfg.metrics().AuthResult(c.selectedMethod, err == nil)
	return err
}

// awaitRequest reads and validates the CONNECT/BIND/UDP_ASSOCIATE
// request. Command and address-type validation failures send the
// matching reply themselves before returning the error, since the
// caller has no reply left to send for those cases.
func (c *Connection) awaitRequest() (*Request, error) {
	c.setHandshakeDeadline()

	req, err := readRequest(c.client)
	if err != nil {
		if pe, ok := err.(*PolicyError); ok {
			writeReply(c.client, replyForPolicyError(pe), nil, 0)
			return nil, pe
		}
		writeReply(c.client, RepGeneralFailure, nil, 0)
		return nil, err
	}

	c.command = req.Command
	c.addrType = req.AddrType
	c.rawAddr = req.RawAddr
	c.host = req.Host
	c.port = req.Port

	if !c.cfg.commandSupported(req.Command) {
		writeReply(c.client, RepCommandNotSupported, nil, 0)
		return nil, &PolicyError{CMD: req.Command}
	}

	return req, nil
}

// resolveAndDial dials the requested destination with the configured
// timeout, maps any failure to a REP code and sends the error reply,
// or on success sends the success reply with the dialer's local
// address as BND.ADDR/BND.PORT.
func (c *Connection) resolveAndDial(ctx context.Context, req *Request) (net.Conn, error) {
	target := net.JoinHostPort(req.Host, fmt.Sprintf("%d", req.Port))

	// The handshake deadline set for the request read must not bleed
	// into the dial: a slow-but-valid dial up to DialTimeout would
	// otherwise find the client socket's deadline already expired by
	// the time the reply write runs.
	c.client.SetDeadline(time.Time{})

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	endpoint, err := c.dialer.DialContext(dialCtx, "tcp", target)
	if err != nil {
		netErr := newNetworkError(err)
		c.cfg.metrics().DialResult(netErr.Rep)
		c.setHandshakeDeadline()
		writeReply(c.client, netErr.Rep, nil, 0)
		return nil, netErr
	}

	c.cfg.metrics().DialResult(RepSucceeded)
	local, _ := endpoint.LocalAddr().(*net.TCPAddr)
	var ip net.IP
	var port uint16
	if local != nil {
		ip = local.IP
		port = uint16(local.Port)
	}
	c.setHandshakeDeadline()
	if err := writeReply(c.client, RepSucceeded, ip, port); err != nil {
		endpoint.Close()
		return nil, &TransportError{Err: err}
	}

	c.client.SetDeadline(time.Time{})
	endpoint.SetDeadline(time.Time{})
	return endpoint, nil
}

func (c *Connection) setHandshakeDeadline() {
	if c.cfg.HandshakeReadTimeout > 0 {
		c.client.SetDeadline(time.Now().Add(c.cfg.HandshakeReadTimeout))
	}
}
