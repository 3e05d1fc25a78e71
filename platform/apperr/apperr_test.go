package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := map[string]struct {
		err  *Error
		want int
	}{
		"not found":   {NotFound("conversation not found"), http.StatusNotFound},
		"validation":  {Validation("unknown state"), http.StatusBadRequest},
		"bad request": {BadRequest("confirm=clear-all is required"), http.StatusBadRequest},
		"unavailable": {Unavailable("dedupe store unavailable"), http.StatusServiceUnavailable},
		"unknown":     {New(KindUnknown, "x"), http.StatusBadRequest},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.HTTPStatus())
		})
	}
}

func TestErrorSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("ops: %w", Unavailable("dedupe store unavailable"))

	var target *Error
	assert.ErrorAs(t, wrapped, &target)
	assert.Equal(t, KindUnavailable, target.Kind)
	assert.Equal(t, "dedupe store unavailable", target.Error())
}
