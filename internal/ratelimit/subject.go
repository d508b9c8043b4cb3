package ratelimit

import (
	"net"
	"strings"
)

// Subjects are namespaced by who spends the budget, so the API and the
// outbound transport can share one bucket store and key prefix.
const (
	ScopeAPI      = "api"
	ScopeOutbound = "outbound"
)

const anonymous = "anonymous"

// APISubject keys a client budget per user and route, e.g.
// api:user-9:/v1/jobs. A blank user falls back to anonymous.
func APISubject(userID, route string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = anonymous
	}
	return ScopeAPI + ":" + userID + ":" + route
}

// OutboundSubject keys the budget for calls to one remote host. Hosts are
// compared case-insensitively and default ports are dropped.
func OutboundSubject(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, port, err := net.SplitHostPort(host); err == nil && (port == "80" || port == "443") {
		host = h
	}
	if host == "" {
		host = anonymous
	}
	return ScopeOutbound + ":" + host
}
