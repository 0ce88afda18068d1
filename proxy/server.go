package proxy

import (
	"fmt"
	"net"

	"dpidesync/config"
	"dpidesync/desync"
	"dpidesync/internal/log"
	"dpidesync/packet"
	"dpidesync/ttlsock"
)

// ProxyServer owns a listening socket and the accept loop that spawns one
// ProxyConnection per client, bounded by Params.MaxOpen (spec.md §4.5).
type ProxyServer struct {
	params   *config.Params
	listener *net.TCPListener
	packets  *packet.Handler
	desync   *desync.Handler
	registry *connRegistry
	logger   *log.Logger
}

// NewProxyServer binds params.Addr() and prepares (but does not yet run)
// the accept loop.
func NewProxyServer(params *config.Params, logger *log.Logger) (*ProxyServer, error) {
	addr, err := net.ResolveTCPAddr("tcp", params.Addr())
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve %s: %w", params.Addr(), err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: listen %s: %w", params.Addr(), err)
	}

	registry, err := newConnRegistry(params.MaxOpen)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("proxy: connection registry: %w", err)
	}

	return &ProxyServer{
		params:   params,
		listener: ln,
		packets:  packet.NewHandler(params.BufferSize),
		desync:   desync.NewHandler(packet.NewHandler(params.BufferSize)),
		registry: registry,
		logger:   logger,
	}, nil
}

// Addr returns the address the listener is bound to.
func (s *ProxyServer) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop until the listener is closed by Stop. Overflow
// connections — accepted while the registry is already at MaxOpen — are
// closed immediately with no queueing, matching spec.md §4.5.
func (s *ProxyServer) Serve() error {
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return err
		}

		remote := conn.RemoteAddr().String()
		tok, ok := s.registry.Acquire([]byte(remote))
		if !ok {
			s.logger.Debugf("proxy: rejecting %s: at capacity", remote)
			conn.Close()
			continue
		}

		dp := s.params.DP[0]
		pc := NewProxyConnection(conn, s.params, dp, s.packets, s.desync, s.logger)
		go func() {
			defer s.registry.Release(tok)
			pc.Serve()
		}()
	}
}

// Stop closes the listener, which unblocks Serve's AcceptTCP call.
// In-flight connections are not force-closed; they drain on their own as
// their forwarders hit EOF or error (spec.md §4.5, §5).
func (s *ProxyServer) Stop() error {
	return s.listener.Close()
}

// Len reports the number of connections currently being served.
func (s *ProxyServer) Len() int { return s.registry.Len() }

// applyDefaultTTL sets a connection's outgoing TTL once at connect time and
// discards the restore function: Params.DefaultTTL is a standing policy for
// the life of the upstream socket, not a transient override like FAKE
// mode's per-write TTL.
func applyDefaultTTL(conn *net.TCPConn, ttl int) error {
	_, err := ttlsock.SetTTL(conn, ttl)
	return err
}
