package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name   string
		header string
		remote string
		want   string
	}{
		{name: "header wins", header: "alice", remote: "10.1.2.3:4000", want: "alice"},
		{name: "header trimmed", header: "  bob ", remote: "10.1.2.3:4000", want: "bob"},
		{name: "blank header falls back", header: "   ", remote: "10.1.2.3:4000", want: "10.1.2.3:4000"},
		{name: "ipv6 peer", remote: "[::1]:8080", want: "[::1]:8080"},
		{name: "unparsable peer kept", remote: "@", want: "@"},
		{name: "nothing", remote: "", want: Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/process-audio", nil)
			r.RemoteAddr = tc.remote
			if tc.header != "" {
				r.Header.Set(HeaderClientID, tc.header)
			}
			assert.Equal(t, tc.want, Resolve(r))
		})
	}
}

func TestResolveNilRequest(t *testing.T) {
	assert.Equal(t, Unknown, Resolve(nil))
}
