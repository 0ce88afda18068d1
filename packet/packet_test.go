package packet

import (
	"bytes"
	"net"
	"testing"
)

func TestSplitWithinRange(t *testing.T) {
	data := []byte("HELLOWORLD")
	p := New(data, 0, len(data), true)

	first, second := Split(p, 5)
	if !bytes.Equal(first.Bytes(), []byte("HELLO")) {
		t.Fatalf("first = %q, want %q", first.Bytes(), "HELLO")
	}
	if !bytes.Equal(second.Bytes(), []byte("WORLD")) {
		t.Fatalf("second = %q, want %q", second.Bytes(), "WORLD")
	}
}

func TestSplitPastEndIsNoop(t *testing.T) {
	data := []byte("HELLO")
	p := New(data, 0, len(data), true)

	first, second := Split(p, 100)
	if !bytes.Equal(first.Bytes(), data) {
		t.Fatalf("first = %q, want original %q", first.Bytes(), data)
	}
	if !second.Empty() {
		t.Fatalf("second should be empty, got %q", second.Bytes())
	}
}

func TestSplitNegativeClampsToZero(t *testing.T) {
	data := []byte("HELLO")
	p := New(data, 0, len(data), true)

	first, second := Split(p, -3)
	if !first.Empty() {
		t.Fatalf("first should be empty, got %q", first.Bytes())
	}
	if !bytes.Equal(second.Bytes(), data) {
		t.Fatalf("second = %q, want %q", second.Bytes(), data)
	}
}

func TestNewPanicsOnOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range offset+size")
		}
	}()
	New([]byte("hi"), 0, 10, false)
}

func TestFakePayloadsAreWellFormed(t *testing.T) {
	tls := FakeTLS()
	if tls.Size() != 52 {
		t.Fatalf("FakeTLS size = %d, want 52", tls.Size())
	}
	if tls.Bytes()[0] != 0x16 {
		t.Fatalf("FakeTLS first byte = %#x, want 0x16", tls.Bytes()[0])
	}

	httpDecoy := FakeHTTP()
	if !bytes.Contains(httpDecoy.Bytes(), []byte("Host: example.com")) {
		t.Fatalf("FakeHTTP missing Host header: %q", httpDecoy.Bytes())
	}

	udp := FakeUDP()
	if udp.Size() != 8 {
		t.Fatalf("FakeUDP size = %d, want 8", udp.Size())
	}
}

// TestHandlerReadWrite exercises Read/Write over net.Pipe; a pipe has no
// file descriptor so it can't stand in for TTL/OOB tests, only ordinary
// framing.
func TestHandlerReadWrite(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	h := NewHandler(1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p, err := h.Read(b)
		if err != nil {
			t.Errorf("Read: %v", err)
			return
		}
		if !bytes.Equal(p.Bytes(), []byte("ping")) {
			t.Errorf("Read = %q, want %q", p.Bytes(), "ping")
		}
	}()

	if err := h.Write(a, New([]byte("ping"), 0, 4, true)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	<-done
}

func TestHandlerWriteEmptyIsNoop(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	h := NewHandler(16)
	if err := h.Write(a, New(nil, 0, 0, true)); err != nil {
		t.Fatalf("Write empty: %v", err)
	}
}
