package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs_MatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("fetch: %w", Upstream("store returned 503", errors.New("boom")))

	assert.True(t, errors.Is(err, ErrUpstream))
	assert.False(t, errors.Is(err, ErrGeneration))
	assert.False(t, errors.Is(err, ErrAuth))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[*Error]int{
		Auth("bad token", nil):         http.StatusUnauthorized,
		RateLimited("slow down"):       http.StatusTooManyRequests,
		Upstream("store down", nil):    http.StatusBadGateway,
		Generation("quota", nil):       http.StatusBadGateway,
		Invalid(CodeInvalidJSON, "no"): http.StatusBadRequest,
		NotFound("gone"):               http.StatusNotFound,
	}
	for e, want := range cases {
		assert.Equal(t, want, e.HTTPStatus(), e.Kind.String())
	}
}

func TestFrom_WrapsUnknownAsInternal(t *testing.T) {
	e := From(errors.New("disk on fire"))
	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, CodeInternal, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus())

	orig := RateLimited("x")
	assert.Same(t, orig, From(fmt.Errorf("wrapped: %w", orig)))
}
