package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsSetKind(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"validation", Validation("bad %s", "input"), KindRequestValidation},
		{"authz", Authz("no access"), KindAuthorization},
		{"conflict", Conflict("already terminal"), KindConflict},
		{"upstream", Upstream(stderrors.New("boom"), "catalog down"), KindUpstreamUnavailable},
		{"unsupported", Unsupported("no handler"), KindUnsupported},
		{"server", Server(stderrors.New("boom"), "db write failed"), KindServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind)
		})
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("x").HTTPStatus())
	assert.Equal(t, http.StatusForbidden, Authz("x").HTTPStatus())
	assert.Equal(t, http.StatusConflict, Conflict("x").HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Upstream(nil, "x").HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, Unsupported("x").HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Server(nil, "x").HTTPStatus())
}

func TestUnrecognizedKindDefaultsTo500(t *testing.T) {
	e := &Error{Kind: Kind("bogus"), Message: "x"}
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(KindServer, cause, "wrapping")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")
	assert.Contains(t, err.Error(), "wrapping")
}

func TestKindOfAndStatusOfUnwrapThroughFmtErrorf(t *testing.T) {
	inner := Conflict("job already terminal")
	outer := fmt.Errorf("pausing job: %w", inner)

	assert.Equal(t, KindConflict, KindOf(outer))
	assert.Equal(t, http.StatusConflict, StatusOf(outer))
}

func TestKindOfDefaultsToServerForPlainError(t *testing.T) {
	plain := stderrors.New("unclassified failure")
	assert.Equal(t, KindServer, KindOf(plain))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(plain))
}
