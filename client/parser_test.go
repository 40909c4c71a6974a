package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in   string
		want Target
	}{
		{"root@93.93.115.29", Target{User: "root", Host: "93.93.115.29", Port: 22}},
		{"deploy@example.com:2222", Target{User: "deploy", Host: "example.com", Port: 2222}},
		{"example.com", Target{User: "me", Host: "example.com", Port: 22}},
		{"  host:23 ", Target{User: "me", Host: "host", Port: 23}},
		{"root@[2001:db8::1]:2200", Target{User: "root", Host: "2001:db8::1", Port: 2200}},
		{"[::1]", Target{User: "me", Host: "::1", Port: 22}},
	}
	for _, c := range cases {
		got, err := ParseTarget(c.in, "me", 22)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseTarget_Errors(t *testing.T) {
	for _, in := range []string{"host:abc", "host:0", "host:70000", "root@", "@host", "[::1", "[::1]x", ""} {
		_, err := ParseTarget(in, "me", 22)
		require.Error(t, err, in)
	}
}
