// Package email holds address helpers shared by the transports and the
// delivery paths.
package email

import (
	"net/mail"
	"strings"
)

// split returns the local part and lowercased domain of addr. A display
// name form ("Jane <jane@example.com>") is accepted.
func split(addr string) (local, domain string, ok bool) {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], strings.ToLower(addr[at+1:]), true
}

// Domain returns the domain of addr, or fallback when addr has none
func Domain(addr, fallback string) string {
	if _, domain, ok := split(addr); ok {
		return domain
	}
	return fallback
}

// IsDeliverable reports whether addr is a bare address a transport can send
// to: one mailbox, a local part and a dotted domain.
func IsDeliverable(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return false
	}
	_, domain, ok := split(addr)
	return ok && strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".")
}

// Normalize trims and lowercases the domain part of an address
func Normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return addr
	}
	return addr[:at] + "@" + strings.ToLower(addr[at+1:])
}
