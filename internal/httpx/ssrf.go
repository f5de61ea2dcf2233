// Package httpx provides an SSRF-safe HTTP client for outbound calls this
// service makes on a tenant's behalf: branding lookups against the
// identity service, and SMS/push provider requests whose target host is
// partly tenant-configured.
package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// isPrivateIP reports whether ip is loopback, private, link-local, or
// otherwise non-routable — never a legitimate target for a server-side
// outbound request.
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

// safeTransport validates resolved IPs at dial time so a DNS response
// can't rebind a previously-approved hostname to an internal address.
func safeTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("httpx: invalid address %q: %w", addr, err)
			}

			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("httpx: DNS resolution failed for %q: %w", host, err)
			}

			for _, ipAddr := range ips {
				if isPrivateIP(ipAddr.IP) {
					return nil, fmt.Errorf("httpx: %q resolves to private address %s", host, ipAddr.IP)
				}
			}

			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
		},
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       30 * time.Second,
	}
}

// SafeClient returns an http.Client that refuses to connect to
// private/loopback/link-local addresses, for outbound calls whose target
// host is wholly or partly tenant-supplied.
func SafeClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: safeTransport(),
	}
}
