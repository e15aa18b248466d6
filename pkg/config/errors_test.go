package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name: "full error",
			err:  NewValidationError("seed.platform", "plat-1", "kind", errors.New("unknown kind")),
			contains: []string{
				"seed.platform",
				"plat-1",
				"kind",
				"unknown kind",
			},
		},
		{
			name: "section only",
			err:  NewValidationError("server", "", "", errors.New("bad port")),
			contains: []string{
				"server",
				"bad port",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	validationErr := NewValidationError("security", "", "master_key", baseErr)

	assert.Equal(t, baseErr, validationErr.Unwrap())
	assert.True(t, errors.Is(validationErr, baseErr))
}

func TestLoadErrorError(t *testing.T) {
	err := NewLoadError("wxgate.yaml", errors.New("file not found"))
	assert.Contains(t, err.Error(), "failed to load")
	assert.Contains(t, err.Error(), "wxgate.yaml")
	assert.Contains(t, err.Error(), "file not found")
}

func TestLoadErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	loadErr := NewLoadError("test.yaml", baseErr)

	assert.Equal(t, baseErr, loadErr.Unwrap())
	assert.True(t, errors.Is(loadErr, baseErr))
}
