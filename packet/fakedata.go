package packet

// Canned decoy payloads. Downstream middleboxes fingerprint flows by these
// exact bytes, so they must be reproduced byte-for-byte — do not "clean up"
// the literal encoding below.

// fakeTLSBytes is a 52-byte TLS 1.2 ClientHello record: a 5-byte record
// header, a 4-byte handshake header, version 0x0303, 32 zero random bytes,
// an empty session ID, two cipher suites (0x002F, 0x0035), and a single
// null compression method.
var fakeTLSBytes = []byte{
	// TLS record header: handshake(22), version 3.1, length=47
	0x16, 0x03, 0x01, 0x00, 0x2f,
	// Handshake header: ClientHello(1), length=43
	0x01, 0x00, 0x00, 0x2b,
	// ClientHello.version = TLS 1.2
	0x03, 0x03,
	// 32 bytes of random
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	// session ID length = 0
	0x00,
	// cipher suites length = 4, two suites
	0x00, 0x04, 0x00, 0x2f, 0x00, 0x35,
	// compression methods length = 1, null method
	0x01, 0x00,
}

var fakeHTTPBytes = []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")

var fakeUDPBytes = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// FakeTLS returns the canned TLS ClientHello decoy.
func FakeTLS() Packet {
	return New(fakeTLSBytes, 0, len(fakeTLSBytes), false)
}

// FakeHTTP returns the canned HTTP GET decoy.
func FakeHTTP() Packet {
	return New(fakeHTTPBytes, 0, len(fakeHTTPBytes), false)
}

// FakeUDP returns the canned UDP decoy (8 zero bytes). UDP associate is out
// of scope for this proxy and nothing in this module selects this payload:
// FAKE mode defaults to FakeTLS, and -l replaces that with custom bytes.
func FakeUDP() Packet {
	return New(fakeUDPBytes, 0, len(fakeUDPBytes), false)
}
