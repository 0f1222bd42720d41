package request

import (
	"net"
	"net/http"
)

// ClientIP returns the client address without the port. RemoteAddr carries
// host:port ("[::1]:52375" for IPv6); the ledger stores bare addresses,
// which must fit the 45-character ip_address column.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
