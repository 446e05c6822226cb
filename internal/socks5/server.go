package socks5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Listener is one accept loop: a Config plus the net.Listener it owns.
// A Server runs any number of these concurrently, sharing nothing but
// the immutable pieces each Config points at.
type Listener struct {
	Config *Config

	ln     net.Listener
	dialer Dialer
}

// NewListener binds cfg.ListenAddress and returns a Listener ready for Serve. If
// cfg.OutboundBindIP is set, outbound dials from this listener are
// pinned to it.
func NewListener(cfg *Config) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddress, err)
	}
	return &Listener{
		Config: cfg,
		ln:     ln,
		dialer: newTunedDialer(cfg.OutboundBindIP),
	}, nil
}

// Addr returns the bound local address, useful when ListenAddress uses
// port 0 (as in tests).
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed, spawning one Connection goroutine per client. A connection's
// failure never stops the loop or affects any other connection.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	log := l.Config.logger()
	for {
		client, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("accept error", "listen_address", l.Config.ListenAddress, "error", err)
			continue
		}
		conn := NewConnection(client, l.Config, l.dialer)
		go conn.Serve(ctx)
	}
}

// Close closes the underlying listener socket without waiting for
// in-flight connections; they observe EOF on their own schedule.
func (l *Listener) Close() error { return l.ln.Close() }

// Server runs a set of Listeners sharing no mutable state across
// connections; only the accept loop touches the listening socket.
type Server struct {
	listeners []*Listener
	logger    *slog.Logger
}

// NewServer constructs a Server from already-built Listeners (use
// internal/config to turn a YAML file into Configs, then NewListener
// each one).
func NewServer(logger *slog.Logger, listeners ...*Listener) *Server {
	return &Server{listeners: listeners, logger: logger}
}

// Run starts every listener's accept loop and blocks until ctx is
// cancelled or one of them returns a non-nil error (which is then
// surfaced to the caller; individual connection errors never reach
// here — a connection's failure never affects the server).
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(s.listeners))
	var wg sync.WaitGroup
	wg.Add(len(s.listeners))
	for _, l := range s.listeners {
		l := l
		go func() {
			defer wg.Done()
			if err := l.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("listener %s: %w", l.Config.ListenAddress, err)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			cancel()
			return err
		}
		return nil
	}
}

// Shutdown closes every listener's socket; in-flight connections are
// left to observe EOF on their client or endpoint socket and terminate
// on their own.
func (s *Server) Shutdown() {
	for _, l := range s.listeners {
		l.Close()
	}
}
