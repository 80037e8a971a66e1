package rpc

import "crypto/rand"

// alphanumeric is the character set for every random id in this module
// (session ids, connection ids, generated subdomains). No library in the
// retrieved example pack generates ids restricted to this exact alphabet
// (google/uuid produces dashed hex, not a bare alnum string of arbitrary
// length), so crypto/rand is used directly as the entropy source; this is
// a justified, narrowly-scoped stdlib use (see DESIGN.md).
const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomAlnum returns a random alphanumeric string of length n.
func RandomAlnum(n int) string {
	buf := make([]byte, n)
	idx := make([]byte, n)
	if _, err := rand.Read(idx); err != nil {
		panic("rpc: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range idx {
		buf[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(buf)
}

// NewSessionID returns a 128-character random alphanumeric session id
// (spec.md §3).
func NewSessionID() string { return RandomAlnum(128) }

// NewConnID returns a 32-character random alphanumeric connection id
// (spec.md §3, §9).
func NewConnID() string { return RandomAlnum(32) }

// NewSubdomain returns an 8-character random alphanumeric subdomain
// candidate (spec.md §3).
func NewSubdomain() string { return RandomAlnum(8) }
