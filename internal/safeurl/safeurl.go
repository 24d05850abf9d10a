// Package safeurl classifies outbound URLs as safe to fetch, rejecting
// anything that could be used to reach loopback, link-local, or other
// internal network ranges (SSRF).
package safeurl

import (
	"context"
	"net"
	"net/url"
	"strings"
)

// Reason is the taxonomic rejection reason returned alongside a false
// Validate result. The exact strings are part of the external contract
// (tests and callers match on them), so they must not be reworded.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonInvalidURL            Reason = "invalid_url"
	ReasonUnsupportedScheme     Reason = "unsupported_scheme"
	ReasonHTTPSRequired         Reason = "https_required"
	ReasonHTTPNotAllowed        Reason = "http_not_allowed"
	ReasonMissingHost           Reason = "missing_host"
	ReasonUserinfoNotAllowed    Reason = "userinfo_not_allowed"
	ReasonLocalhostNotAllowed   Reason = "localhost_not_allowed"
	ReasonIPNotAllowed          Reason = "ip_not_allowed"
	ReasonDNSFailed             Reason = "dns_failed"
	ReasonResolvedIPNotAllowed  Reason = "resolved_ip_not_allowed"
)

// Options controls which schemes and hosts validate() will accept.
type Options struct {
	// AllowHTTP permits plain http:// when RequireHTTPS is false.
	AllowHTTP bool
	// RequireHTTPS rejects anything but https:// unless AllowHTTP is also set.
	RequireHTTPS bool
	// Resolver is used for hostname resolution; defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

func (o Options) resolver() *net.Resolver {
	if o.Resolver != nil {
		return o.Resolver
	}
	return net.DefaultResolver
}

// Validate classifies url as safe to fetch under opts, returning the
// rejection reason when it is not. It performs DNS resolution for
// hostnames, so a true result guarantees the name resolved (at
// validation time) to only permitted addresses.
func Validate(ctx context.Context, rawURL string, opts Options) (bool, Reason) {
	u, err := url.Parse(rawURL)
	if err != nil || u == nil {
		return false, ReasonInvalidURL
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return false, ReasonUnsupportedScheme
	}

	if opts.RequireHTTPS && u.Scheme != "https" && !opts.AllowHTTP {
		return false, ReasonHTTPSRequired
	}
	if u.Scheme == "http" && !opts.AllowHTTP {
		return false, ReasonHTTPNotAllowed
	}

	host := u.Hostname()
	if host == "" {
		return false, ReasonMissingHost
	}
	if u.User != nil {
		return false, ReasonUserinfoNotAllowed
	}
	if strings.EqualFold(host, "localhost") {
		return false, ReasonLocalhostNotAllowed
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return false, ReasonIPNotAllowed
		}
		return true, ReasonNone
	}

	addrs, err := opts.resolver().LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return false, ReasonDNSFailed
	}
	for _, addr := range addrs {
		if isDisallowedIP(addr.IP) {
			return false, ReasonResolvedIPNotAllowed
		}
	}
	return true, ReasonNone
}

// isDisallowedIP reports whether ip falls in a private, loopback,
// link-local, multicast, reserved, or unspecified range.
func isDisallowedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() || ip.IsPrivate() {
		return true
	}
	// The checks above already classify IPv4 and IPv4-mapped IPv6 forms
	// alike; what remains for IPv4 is the reserved 240.0.0.0/4 block.
	if v4 := ip.To4(); v4 != nil {
		return v4[0] >= 240
	}
	for _, block := range reservedV6Blocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

var reservedV6Blocks = func() []*net.IPNet {
	cidrs := []string{
		"::/128",
		"100::/64",
		"2001::/23",
		"2001:db8::/32",
		"fc00::/7", // unique local
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

// ResolveDial resolves host to a single concrete IP suitable for dialing
// and returns that IP; the caller keeps the original host for the Host
// header. Callers that want to minimize the gap between validation and connection
// (see the TOCTOU note in the design notes) should resolve once here and
// hand the result to a custom net.Dialer.Control or DialContext, rather
// than letting the HTTP transport re-resolve the hostname independently.
func ResolveDial(ctx context.Context, resolver *net.Resolver, host string) (net.IP, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return nil, err
	}
	return addrs[0].IP, nil
}
