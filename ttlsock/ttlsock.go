// Package ttlsock reaches below the net.Conn stream abstraction for the two
// socket options the desync pipeline's FAKE and OOB modes need: per-write
// IP TTL and the TCP urgent (out-of-band) byte. Everything else in this
// module stays at the net.Conn level; this is the one package that doesn't
// (spec.md Design Notes §9).
package ttlsock

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// RestoreFunc undoes a SetTTL call, putting the socket's TTL back to
// whatever it was before.
type RestoreFunc func() error

func ttlOption(conn *net.TCPConn) (level, name int) {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if ok && addr.IP.To4() == nil {
		return unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS
	}
	return unix.IPPROTO_IP, unix.IP_TTL
}

// SetTTL lowers conn's outgoing IP TTL to ttl and returns a function that
// restores the value it replaced. Ported from the raw syscall.SetsockoptInt
// idiom to golang.org/x/sys/unix's named constants, and from (*net.TCPConn).File
// (which duplicates the descriptor and leaves the original in blocking mode)
// to SyscallConn, which operates on the live descriptor without affecting
// its blocking mode.
func SetTTL(conn *net.TCPConn, ttl int) (RestoreFunc, error) {
	level, name := ttlOption(conn)

	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("ttlsock: syscall conn: %w", err)
	}

	var original int
	var getErr, setErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		original, getErr = unix.GetsockoptInt(int(fd), level, name)
		if getErr != nil {
			return
		}
		setErr = unix.SetsockoptInt(int(fd), level, name, ttl)
	})
	if ctrlErr != nil {
		return nil, fmt.Errorf("ttlsock: control: %w", ctrlErr)
	}
	if getErr != nil {
		return nil, fmt.Errorf("ttlsock: getsockopt ttl: %w", getErr)
	}
	if setErr != nil {
		return nil, fmt.Errorf("ttlsock: setsockopt ttl: %w", setErr)
	}

	restore := func() error {
		var restoreErr error
		if err := raw.Control(func(fd uintptr) {
			restoreErr = unix.SetsockoptInt(int(fd), level, name, original)
		}); err != nil {
			return fmt.Errorf("ttlsock: control: %w", err)
		}
		if restoreErr != nil {
			return fmt.Errorf("ttlsock: restore ttl: %w", restoreErr)
		}
		return nil
	}
	return restore, nil
}

// SendOOB sends a single byte on conn's TCP urgent data channel (MSG_OOB).
// Middleboxes that don't track the urgent pointer the way the real
// destination's kernel does end up desynchronized from the byte stream
// they think they're inspecting.
func SendOOB(conn *net.TCPConn, b byte) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("ttlsock: syscall conn: %w", err)
	}

	var sendErr error
	ctrlErr := raw.Write(func(fd uintptr) bool {
		_, sendErr = unix.Send(int(fd), []byte{b}, unix.MSG_OOB)
		return !errors.Is(sendErr, unix.EAGAIN)
	})
	if ctrlErr != nil {
		return fmt.Errorf("ttlsock: write: %w", ctrlErr)
	}
	if sendErr != nil {
		return fmt.Errorf("ttlsock: send oob: %w", sendErr)
	}
	return nil
}
