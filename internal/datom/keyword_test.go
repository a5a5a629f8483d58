package datom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyword_Valid(t *testing.T) {
	kw, err := ParseKeyword("person/email")
	require.NoError(t, err)
	assert.Equal(t, "person", kw.Namespace())
	assert.Equal(t, "email", kw.Name())
	assert.Equal(t, "person/email", kw.String())
}

func TestParseKeyword_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"no separator", "personemail"},
		{"empty namespace", "/email"},
		{"empty name", "person/"},
		{"empty string", ""},
		{"double separator", "person/email/home"},
		{"whitespace", "person/e mail"},
		{"tab", "per\tson/email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseKeyword(tc.input)
			assert.Error(t, err)
		})
	}
}

// TestParseKeyword_NFCNormalization tests that decomposed and precomposed
// spellings of the same keyword parse to equal Keywords.
func TestParseKeyword_NFCNormalization(t *testing.T) {
	precomposed, err := ParseKeyword("café/menu")
	require.NoError(t, err)
	decomposed, err := ParseKeyword("café/menu")
	require.NoError(t, err)
	assert.Equal(t, precomposed, decomposed)
}

func TestMustKeyword_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustKeyword("nope") })
	assert.NotPanics(t, func() { MustKeyword("db/ident") })
}
