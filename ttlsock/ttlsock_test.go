package ttlsock

import (
	"net"
	"testing"

	"golang.org/x/sys/unix"
)

func loopbackPair(t *testing.T) (client, server *net.TCPConn) {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan *net.TCPConn, 1)
	go func() {
		c, _ := ln.AcceptTCP()
		acceptCh <- c
	}()

	c, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := <-acceptCh
	if s == nil {
		t.Fatal("accept failed")
	}
	return c, s
}

func TestSetTTLRestoresOriginal(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	ttlOf := func() int {
		level, name := ttlOption(client)
		raw, err := client.SyscallConn()
		if err != nil {
			t.Fatalf("syscall conn: %v", err)
		}
		var ttl int
		var getErr error
		if err := raw.Control(func(fd uintptr) {
			ttl, getErr = unix.GetsockoptInt(int(fd), level, name)
		}); err != nil || getErr != nil {
			t.Fatalf("getsockopt ttl: %v, %v", err, getErr)
		}
		return ttl
	}
	original := ttlOf()

	restore, err := SetTTL(client, 3)
	if err != nil {
		t.Fatalf("SetTTL: %v", err)
	}
	if got := ttlOf(); got != 3 {
		t.Fatalf("TTL after SetTTL = %d, want 3", got)
	}
	if err := restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := ttlOf(); got != original {
		t.Fatalf("TTL after restore = %d, want original %d", got, original)
	}
}

func TestSendOOBDoesNotError(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	if err := SendOOB(client, 0x00); err != nil {
		t.Fatalf("SendOOB: %v", err)
	}
}
