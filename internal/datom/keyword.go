package datom

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Keyword is a namespaced ident of the form "ns/name", e.g. "person/email".
// Attribute identities and symbolic keyword values are both Keywords.
//
// Keywords are NFC normalized at construction so that two spellings of the
// same ident compare equal regardless of how the caller composed them.
type Keyword string

// ParseKeyword validates and normalizes a keyword string.
// A keyword must contain exactly one "/" separating a non-empty namespace
// from a non-empty name, with no whitespace in either part.
func ParseKeyword(s string) (Keyword, error) {
	s = norm.NFC.String(s)
	ns, name, ok := strings.Cut(s, "/")
	if !ok {
		return "", fmt.Errorf("keyword %q: missing namespace separator", s)
	}
	if ns == "" || name == "" {
		return "", fmt.Errorf("keyword %q: namespace and name must be non-empty", s)
	}
	if strings.ContainsAny(s, " \t\n") || strings.Contains(name, "/") {
		return "", fmt.Errorf("keyword %q: invalid characters", s)
	}
	return Keyword(s), nil
}

// MustKeyword is ParseKeyword that panics on invalid input.
// For use with literals in bootstrap tables and tests.
func MustKeyword(s string) Keyword {
	kw, err := ParseKeyword(s)
	if err != nil {
		panic(err)
	}
	return kw
}

// Namespace returns the part before the "/".
func (k Keyword) Namespace() string {
	ns, _, _ := strings.Cut(string(k), "/")
	return ns
}

// Name returns the part after the "/".
func (k Keyword) Name() string {
	_, name, _ := strings.Cut(string(k), "/")
	return name
}

func (k Keyword) String() string { return string(k) }
