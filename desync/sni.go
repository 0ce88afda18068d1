package desync

import "golang.org/x/crypto/cryptobyte"

// FindSNI walks payload as a TLS handshake record looking for the server_name
// extension of a ClientHello, and returns the byte offset (relative to the
// start of payload) of the first byte of the hostname value. It returns
// ok=false if payload doesn't parse as a plausible ClientHello or carries no
// SNI extension — callers fall back to anchor=0 in that case (spec.md §9).
//
// This is deliberately a source-only scan: golang.org/x/crypto/cryptobyte
// gives structured length-prefixed reads without validating or terminating
// on anything past the fields needed to locate the extension.
func FindSNI(payload []byte) (int, bool) {
	const tlsHandshakeContentType = 0x16
	const clientHelloMsgType = 1
	const serverNameExtType = 0
	const hostNameType = 0

	if len(payload) < 5 || payload[0] != tlsHandshakeContentType {
		return 0, false
	}
	recordOffset := 5

	hs := cryptobyte.String(payload[recordOffset:])
	var msgType uint8
	if !hs.ReadUint8(&msgType) || msgType != clientHelloMsgType {
		return 0, false
	}

	var ch cryptobyte.String
	if !hs.ReadUint24LengthPrefixed(&ch) {
		return 0, false
	}
	// messageType(1) + 3-byte length field always precede ch.
	chOffset := recordOffset + 4
	chLen0 := len(ch)

	var version uint16
	var random []byte
	var sessionID, cipherSuites, compressionMethods cryptobyte.String
	if !ch.ReadUint16(&version) ||
		!ch.ReadBytes(&random, 32) ||
		!ch.ReadUint8LengthPrefixed(&sessionID) ||
		!ch.ReadUint16LengthPrefixed(&cipherSuites) ||
		!ch.ReadUint8LengthPrefixed(&compressionMethods) {
		return 0, false
	}
	if ch.Empty() {
		return 0, false
	}

	var extensions cryptobyte.String
	if !ch.ReadUint16LengthPrefixed(&extensions) {
		return 0, false
	}
	extStartOffset := chOffset + (chLen0 - len(ch)) - len(extensions)
	extLen0 := len(extensions)

	for !extensions.Empty() {
		before := extLen0 - len(extensions)

		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return 0, false
		}
		if extType != serverNameExtType {
			continue
		}

		extDataOffset := extStartOffset + before + 4 // 2(type) + 2(length)

		var nameList cryptobyte.String
		if !extData.ReadUint16LengthPrefixed(&nameList) {
			return 0, false
		}
		nameListOffset := extDataOffset + 2
		nameListLen0 := len(nameList)

		for !nameList.Empty() {
			nameBefore := nameListLen0 - len(nameList)

			var nameType uint8
			var hostName cryptobyte.String
			if !nameList.ReadUint8(&nameType) || !nameList.ReadUint16LengthPrefixed(&hostName) {
				break
			}
			if nameType == hostNameType {
				return nameListOffset + nameBefore + 3, true // 1(type) + 2(length)
			}
		}
		return 0, false
	}

	return 0, false
}
