package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdentifierPhones(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"9876543210", "+919876543210"},
		{"+919876543210", "+919876543210"},
		{"919876543210", "+919876543210"},
		{"+91 98765 43210", "+919876543210"},
		{"98765-43210", "+919876543210"},
		{"  9876543210  ", "+919876543210"},
		// 10-digit number that happens to start with 91 keeps all its digits.
		{"9176543210", "+919176543210"},
	}
	for _, tc := range cases {
		got, err := NormalizeIdentifier(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizeIdentifierEmails(t *testing.T) {
	got, err := NormalizeIdentifier("Vendor.One@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "vendor.one@example.com", got)
}

func TestNormalizeIdentifierRejectsInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"12345",
		// Mobile numbers start with 6-9 and carry exactly ten digits.
		"5876543210",
		"98765432100",
		"987654321",
		// Only the Indian country code is accepted.
		"+929876543210",
		"not-an-email@",
		"@example.com",
		"vendor@nodot",
	} {
		_, err := NormalizeIdentifier(in)
		assert.ErrorIs(t, err, ErrInvalidInput, "input %q", in)
	}
}
