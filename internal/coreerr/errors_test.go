package coreerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf_DirectError(t *testing.T) {
	err := New(OpenFailed, "could not open store")
	assert.Equal(t, OpenFailed, CodeOf(err))
	assert.True(t, IsCode(err, OpenFailed))
}

func TestCodeOf_WrappedError(t *testing.T) {
	inner := New(NetworkError, "dial tcp failed")
	outer := fmt.Errorf("embed call failed: %w", inner)
	assert.Equal(t, NetworkError, CodeOf(outer))
}

func TestCodeOf_NonTaxonomyError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain error")))
}

func TestWithDetail(t *testing.T) {
	err := New(RuntimeMissing, "runtime not found").WithDetail("install from https://example.invalid")
	assert.Contains(t, err.Error(), "install from")
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(errors.New("dial tcp 127.0.0.1:8123: connection refused")))
	assert.False(t, IsConnectionError(errors.New("404 not found")))
	assert.False(t, IsConnectionError(nil))
}
