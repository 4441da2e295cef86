package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("parse store list: missing field"), false},
		{"explicit", NewTransientError(errors.New("server overloaded"), 503), true},
		{"eris wrapped", eris.Wrap(NewTransientError(errors.New("rate limited"), 429), "fetch tienda list"), true},
		{"fmt wrapped", fmt.Errorf("fetch: %w", NewTransientError(errors.New("blocked"), 403)), true},
		{"reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns", fmt.Errorf("dial: %w", &net.DNSError{Err: "server misbehaving", Name: "www.carrefour.es"}), true},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"flattened reset", errors.New("Get \"https://www.ahorramas.com\": connection reset by peer"), true},
		{"flattened tls", errors.New("net/http: TLS handshake timeout"), true},
		{"flattened eof", errors.New("unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("get https://www.carrefour.es: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(&net.DNSError{IsTimeout: true, Err: "timeout"}))
	assert.False(t, IsTimeout(syscall.ECONNREFUSED))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(nil))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 410, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientError(t *testing.T) {
	inner := errors.New("status 503")
	te := NewTransientError(inner, 503)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "status 503", te.Error())
	assert.Equal(t, 503, te.StatusCode)

	var target *TransientError
	assert.True(t, errors.As(eris.Wrap(te, "gateway"), &target))
	assert.Equal(t, 503, target.StatusCode)
}
