package server

import (
	"net"
	"net/http"
	"strings"
)

// clientIP returns the client address of r without the port. When proxy
// headers are trusted, chi's RealIP middleware has already rewritten
// RemoteAddr from X-Forwarded-For or X-Real-IP.
func clientIP(r *http.Request) string {
	ip := remoteIPFromRequest(r)
	if ip == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return ip.String()
}

func remoteIPFromRequest(r *http.Request) net.IP {
	if r == nil {
		return nil
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if zone := strings.Index(host, "%"); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}
