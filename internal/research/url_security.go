package research

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

// Fetch targets are checked twice: once when the URL is accepted and
// again for every address the dialer resolves, so a public hostname
// cannot be rebound to an internal address between the two.

var (
	errSchemeNotAllowed = errors.New("url scheme not allowed")
	errHostNotAllowed   = errors.New("url host not allowed")
	errPortNotAllowed   = errors.New("url port not allowed")
)

var uniqueLocalV6 = netip.MustParsePrefix("fc00::/7")

func checkFetchURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	if parsed == nil || parsed.Host == "" {
		return nil, errors.New("url host is required")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errSchemeNotAllowed
	}

	hostname := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if hostname == "" {
		return nil, errors.New("url hostname is required")
	}
	if hostIsInternal(hostname) {
		return nil, errHostNotAllowed
	}

	if port := strings.TrimSpace(parsed.Port()); port != "" {
		parsedPort, err := strconv.Atoi(port)
		if err != nil || (parsedPort != 80 && parsedPort != 443) {
			return nil, errPortNotAllowed
		}
	}
	return parsed, nil
}

func hostIsInternal(hostname string) bool {
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	if strings.HasSuffix(hostname, ".local") || strings.HasSuffix(hostname, ".internal") {
		return true
	}
	addr, err := netip.ParseAddr(hostname)
	if err != nil {
		// Named host; the dialer check covers what it resolves to.
		return false
	}
	return addrIsInternal(addr)
}

func addrIsInternal(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return true
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
		return true
	}
	if addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return true
	}
	if addr.Is6() {
		return addr.IsInterfaceLocalMulticast() || uniqueLocalV6.Contains(addr)
	}
	return false
}

// checkDialTarget resolves the host and rejects it when any of its
// addresses is internal, not just the one the dialer happened to pick.
func checkDialTarget(ctx context.Context, host string) error {
	if hostIsInternal(host) {
		return errHostNotAllowed
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no ip addresses for host %q", host)
	}
	for _, addr := range addrs {
		if addrIsInternal(addr) {
			return errHostNotAllowed
		}
	}
	return nil
}

func guardedDialContext(base *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	if base == nil {
		base = &net.Dialer{}
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			host = address
		}
		host = strings.TrimSpace(host)
		if host == "" {
			return nil, errors.New("empty host")
		}
		if err := checkDialTarget(ctx, host); err != nil {
			return nil, err
		}
		return base.DialContext(ctx, network, address)
	}
}
