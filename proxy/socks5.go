package proxy

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"dpidesync/config"
	"dpidesync/desync"
	"dpidesync/internal/log"
	"dpidesync/packet"
)

// handshakeTimeout bounds how long a client may take to complete the SOCKS5
// greeting/request exchange before the connection is abandoned, so a
// half-open client can't pin a registry slot forever (spec.md §5).
const handshakeTimeout = 10 * time.Second

const (
	socks5Version  = 0x05
	cmdConnect     = 0x01
	atypIPv4       = 0x01
	atypDomainName = 0x03
	atypIPv6       = 0x04
)

// ProtocolError marks a SOCKS5 framing violation or unsupported
// command/address type (spec.md §7 taxonomy).
type ProtocolError string

func (e ProtocolError) Error() string { return "proxy: protocol error: " + string(e) }

// TransportError marks a read/write/connect failure.
type TransportError struct{ Err error }

func (e TransportError) Error() string { return "proxy: transport error: " + e.Err.Error() }
func (e TransportError) Unwrap() error { return e.Err }

// ProxyConnection is the per-client SOCKS5 state machine and the
// bidirectional relay it hands off to once a CONNECT succeeds (spec.md
// §4.4). Exactly one of Serve's possible outcomes always runs cleanup.
type ProxyConnection struct {
	client  net.Conn
	params  *config.Params
	dp      *config.DesyncParams
	packets *packet.Handler
	desync  *desync.Handler
	logger  *log.Logger

	mu      sync.Mutex
	running bool
}

// NewProxyConnection wraps an accepted client stream.
func NewProxyConnection(client net.Conn, params *config.Params, dp *config.DesyncParams, ph *packet.Handler, dh *desync.Handler, logger *log.Logger) *ProxyConnection {
	return &ProxyConnection{
		client:  client,
		params:  params,
		dp:      dp,
		packets: ph,
		desync:  dh,
		logger:  logger,
		running: true,
	}
}

// Serve drives the connection through greeting, request, connect, and relay,
// and always leaves both streams closed on return.
func (c *ProxyConnection) Serve() {
	defer c.cleanup(nil)

	if err := c.client.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		c.logger.Debugf("proxy: set handshake deadline: %v", err)
	}

	if err := c.greet(); err != nil {
		c.logger.Debugf("proxy: greeting: %v", err)
		return
	}

	addr, err := c.request()
	if err != nil {
		c.logger.Debugf("proxy: request: %v", err)
		return
	}

	upstream, dialErr := c.connect(addr)
	if dialErr != nil {
		c.logger.Debugf("proxy: connect %s: %v", addr, dialErr)
		c.reply(false)
		return
	}
	defer upstream.Close()

	if err := c.reply(true); err != nil {
		c.logger.Debugf("proxy: reply: %v", err)
		return
	}

	if err := c.client.SetReadDeadline(time.Time{}); err != nil {
		c.logger.Debugf("proxy: clear handshake deadline: %v", err)
	}

	c.relay(upstream)
}

// greet consumes the 3-byte SOCKS5 greeting and replies selecting no-auth.
func (c *ProxyConnection) greet() error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(c.client, hdr); err != nil {
		return TransportError{err}
	}
	if hdr[0] != socks5Version {
		return ProtocolError(fmt.Sprintf("unexpected version %#x", hdr[0]))
	}
	nMethods := int(hdr[1])
	methods := make([]byte, nMethods)
	if nMethods > 0 {
		if _, err := io.ReadFull(c.client, methods); err != nil {
			return TransportError{err}
		}
	}

	if _, err := c.client.Write([]byte{socks5Version, 0x00}); err != nil {
		return TransportError{err}
	}
	return nil
}

// request consumes the 4-byte request header and address, and returns the
// dial target. UDP associate is always denied (spec.md §6 -U); BIND is not
// part of this surface at all.
func (c *ProxyConnection) request() (string, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(c.client, hdr); err != nil {
		return "", TransportError{err}
	}
	if hdr[0] != socks5Version {
		return "", ProtocolError(fmt.Sprintf("unexpected version %#x", hdr[0]))
	}
	if hdr[1] != cmdConnect {
		c.reply(false)
		return "", ProtocolError("unsupported command, only CONNECT is allowed")
	}

	host, err := c.readAddress(hdr[3])
	if err != nil {
		return "", err
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(c.client, portBuf); err != nil {
		return "", TransportError{err}
	}
	port := binary.BigEndian.Uint16(portBuf)

	return net.JoinHostPort(host, fmt.Sprintf("%d", port)), nil
}

func (c *ProxyConnection) readAddress(atyp byte) (string, error) {
	switch atyp {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(c.client, buf); err != nil {
			return "", TransportError{err}
		}
		return net.IP(buf).String(), nil

	case atypDomainName:
		if c.params.DenyNames {
			c.reply(false)
			return "", ProtocolError("domain-name resolution denied")
		}
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(c.client, lenBuf); err != nil {
			return "", TransportError{err}
		}
		name := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(c.client, name); err != nil {
			return "", TransportError{err}
		}
		return string(name), nil

	case atypIPv6:
		if !c.params.EnableIPv6 {
			return "", ProtocolError("IPv6 address type not enabled")
		}
		buf := make([]byte, 16)
		if _, err := io.ReadFull(c.client, buf); err != nil {
			return "", TransportError{err}
		}
		return net.IP(buf).String(), nil

	default:
		return "", ProtocolError(fmt.Sprintf("unsupported address type %#x", atyp))
	}
}

// connect dials the upstream target, binding to Params.ConnIP if set.
func (c *ProxyConnection) connect(addr string) (*net.TCPConn, error) {
	dialer := &net.Dialer{}
	if c.params.ConnIP != "" {
		dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(c.params.ConnIP)}
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("proxy: dialed connection is not TCP")
	}
	if c.params.DefaultTTL > 0 {
		if err := applyDefaultTTL(tc, c.params.DefaultTTL); err != nil {
			c.logger.Debugf("proxy: set default ttl: %v", err)
		}
	}
	return tc, nil
}

// reply sends the success or failure SOCKS5 reply; per spec.md §4.4 the
// bound address and port are always zero regardless of the real upstream
// endpoint.
func (c *ProxyConnection) reply(ok bool) error {
	resp := []byte{socks5Version, 0x01, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	if ok {
		resp[1] = 0x00
	}
	_, err := c.client.Write(resp)
	if err != nil {
		return TransportError{err}
	}
	return nil
}

// relay runs the two forwarding directions concurrently and returns once
// both have stopped. The client→upstream direction desyncs its first
// payload; everything else, in both directions, is forwarded verbatim
// (spec.md §4.4, §5).
func (c *ProxyConnection) relay(upstream *net.TCPConn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.forwardDesynced(upstream)
	}()
	go func() {
		defer wg.Done()
		c.forwardVerbatim(upstream, c.client)
	}()

	wg.Wait()
}

// forwardDesynced implements the client→upstream direction: the first
// payload read is handed to DesyncHandler.Apply, everything after that is
// copied straight through.
func (c *ProxyConnection) forwardDesynced(upstream *net.TCPConn) {
	defer c.stop()
	defer upstream.Close()
	defer c.client.Close()

	first := true
	for c.isRunning() {
		p, err := c.packets.Read(c.client)
		if err != nil {
			if err != io.EOF {
				c.logger.Debugf("proxy: client read: %v", err)
			}
			return
		}

		if first {
			first = false
			if err := packet.PrepareForDesync(upstream); err != nil {
				c.logger.Debugf("proxy: prepare desync: %v", err)
			}
			if !c.desync.Apply(upstream, p.Bytes(), c.dp.Parts, desync.Options{
				OOBChar:  c.dp.OOBChar,
				FakeTTL:  c.dp.FakeTTL,
				FakeData: c.dp.FakeData,
			}) {
				c.logger.Debugf("proxy: desync apply failed")
				return
			}
			continue
		}

		if err := c.packets.Write(upstream, p); err != nil {
			c.logger.Debugf("proxy: upstream write: %v", err)
			return
		}
	}
}

// forwardVerbatim copies from src to dst until EOF or error, with no
// transformation in either direction.
func (c *ProxyConnection) forwardVerbatim(src *net.TCPConn, dst net.Conn) {
	defer c.stop()
	defer src.Close()
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		c.logger.Debugf("proxy: relay: %v", err)
	}
}

func (c *ProxyConnection) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// stop marks the connection no longer running; cooperative cancellation
// for the forwarder that isn't currently blocked in a read.
func (c *ProxyConnection) stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// cleanup is idempotent: closing an already-closed net.Conn is a no-op
// error that callers here simply ignore.
func (c *ProxyConnection) cleanup(err error) {
	c.stop()
	c.client.Close()
	if err != nil {
		c.logger.Debugf("proxy: connection ended: %v", err)
	}
}
