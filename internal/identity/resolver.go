// Package identity derives the key that binds a caller to its conversation.
package identity

import (
	"net"
	"net/http"
	"strings"
)

const (
	// HeaderClientID lets a caller pin its own identity across connections.
	HeaderClientID = "X-Client-ID"
	// Unknown is used when neither a header nor a peer address is available.
	Unknown = "unknown"
)

// Resolve returns the client key for r. It never fails.
func Resolve(r *http.Request) string {
	if r == nil {
		return Unknown
	}
	return FromMetadata(r.Header.Get(HeaderClientID), r.RemoteAddr)
}

// FromMetadata picks the explicit header value when present, otherwise the
// peer host:port, otherwise Unknown.
func FromMetadata(header, remoteAddr string) string {
	if id := strings.TrimSpace(header); id != "" {
		return id
	}
	addr := strings.TrimSpace(remoteAddr)
	if addr == "" {
		return Unknown
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		// not host:port (unix sockets, test harnesses); still stable per peer
		return addr
	}
	return net.JoinHostPort(host, port)
}
