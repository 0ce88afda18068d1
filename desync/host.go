package desync

import (
	"bytes"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/text/cases"
)

var foldHost = cases.Fold().String("Host")

// FindHost scans payload for an HTTP "Host:" request header and returns the
// byte offset of the first byte of its value. Header names are
// case-insensitive per RFC 7230 §3.2, so the match folds case with
// golang.org/x/text/cases; golang.org/x/net/http/httpguts validates that
// what precedes the colon is actually a legal header field name before
// treating it as one, so a payload that merely contains "Host:" inside a
// binary blob doesn't false-positive. Returns ok=false if no such header is
// found — callers fall back to anchor=0 (spec.md §9).
func FindHost(payload []byte) (int, bool) {
	pos := 0
	for pos < len(payload) {
		nl := bytes.IndexByte(payload[pos:], '\n')
		var line []byte
		lineStart := pos
		if nl < 0 {
			line = payload[pos:]
			pos = len(payload)
		} else {
			line = payload[pos : pos+nl]
			pos += nl + 1
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := line[:colon]
		if !httpguts.ValidHeaderFieldName(string(name)) {
			continue
		}
		if cases.Fold().String(string(name)) != foldHost {
			continue
		}

		value := line[colon+1:]
		valueOffset := lineStart + colon + 1
		for len(value) > 0 && (value[0] == ' ' || value[0] == '\t') {
			value = value[1:]
			valueOffset++
		}
		return valueOffset, true
	}
	return 0, false
}
