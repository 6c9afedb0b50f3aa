package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"wrapped forbidden", fmt.Errorf("activate: %w", ErrForbidden), http.StatusForbidden},
		{"conflict", ErrConflict, http.StatusConflict},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"invalid", ErrInvalid, http.StatusBadRequest},
		{"upstream", ErrUpstream, http.StatusBadGateway},
		{"storage", errors.New("permission denied"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
