package snapserver

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	requestPrefix = []byte("GET")
	headerEnd     = []byte("\r\n\r\n")
)

const secKeyPrefix = "Sec-WebSocket-Key:"

// isUpgradeRequest reports whether the first bytes of a connection look like
// an HTTP GET request line.
func isUpgradeRequest(b []byte) bool {
	return bytes.HasPrefix(b, requestPrefix)
}

// requestLength returns the length of the request head including the blank
// line, or -1 if the head is not complete yet.
func requestLength(b []byte) int {
	i := bytes.Index(b, headerEnd)
	if i < 0 {
		return -1
	}
	return i + len(headerEnd)
}

// secWebSocketKey extracts the Sec-WebSocket-Key value from a raw request head.
// The header name match is case-sensitive.
func secWebSocketKey(req string) string {
	for line := range strings.SplitSeq(req, "\r\n") {
		if value, ok := strings.CutPrefix(line, secKeyPrefix); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// AcceptKey computes the Sec-WebSocket-Accept token for a client key.
func AcceptKey(key string) string {
	hashedKey := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(hashedKey[:])
}

func appendHandshakeResponse(p []byte, secAcceptKey string) []byte {
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\n"...)
	p = append(p, "Connection: Upgrade\r\n"...)
	p = append(p, "Upgrade: websocket\r\n"...)
	p = append(p, "Sec-WebSocket-Accept: "...)
	p = append(p, secAcceptKey...)
	p = append(p, "\r\n"...)
	p = append(p, "\r\n"...)
	return p
}

func appendBadRequest(p []byte, reason string) []byte {
	p = append(p, "HTTP/1.1 400 Bad Request\r\n"...)
	p = append(p, "Connection: close\r\n"...)
	p = append(p, "Content-Type: text/plain; charset=utf-8\r\n"...)
	p = append(p, "\r\n"...)
	p = append(p, reason...)
	return p
}
