package contracts

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(KindServiceUnavailable, "backend weather unreachable", cause)

	assert.ErrorIs(t, err, cause)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, KindServiceUnavailable, typed.Kind)

	wrapped := fmt.Errorf("call failed: %w", err)
	assert.Equal(t, KindServiceUnavailable, KindOf(wrapped))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Errorf(KindNotFound, "tool %q not in catalog", "weather.lookup")
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTimeout}))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindServiceUnavailable, KindOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindServiceUnavailable, http.StatusServiceUnavailable},
		{KindHandshakeFailure, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindInvocationError, http.StatusUnprocessableEntity},
		{KindConfiguration, http.StatusBadRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), string(tt.kind))
	}
}

func TestCountsAgainstBreaker(t *testing.T) {
	assert.True(t, CountsAgainstBreaker(KindTimeout))
	assert.True(t, CountsAgainstBreaker(KindHandshakeFailure))
	assert.True(t, CountsAgainstBreaker(KindServiceUnavailable))
	assert.False(t, CountsAgainstBreaker(KindInvocationError))
	assert.False(t, CountsAgainstBreaker(KindNotFound))
	assert.False(t, CountsAgainstBreaker(KindConfiguration))
}
