package errors

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError_Error(t *testing.T) {
	// Test error without cause
	err := New(ErrorTypeValidation, "test_op", "test message")
	expected := "[validation] test_op: test message"
	assert.Equal(t, expected, err.Error())

	// Test error with cause
	cause := errors.New("underlying error")
	err = Wrap(cause, ErrorTypeStorage, "save_op", "failed to save")
	assert.Contains(t, err.Error(), "[storage] save_op: failed to save")
	assert.Contains(t, err.Error(), "underlying error")
	assert.Equal(t, cause, err.Unwrap())
}

func TestStructuredError_WithContext(t *testing.T) {
	err := New(ErrorTypeValidation, "test_op", "test message")
	err = err.WithContext("arena", 3).WithContext("path", "/tmp/x.parquet")

	assert.Equal(t, 3, err.Context["arena"])
	assert.Equal(t, "/tmp/x.parquet", err.Context["path"])
}

func TestErrorConstructors(t *testing.T) {
	assert.Equal(t, ErrorTypeValidation, NewValidationError("op", "msg").Type)
	assert.Equal(t, ErrorTypeConfiguration, NewConfigurationError("op", "msg").Type)
}

func TestErrorWrapping(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := WrapValidationError(originalErr, "validate", "validation failed")
	assert.Equal(t, ErrorTypeValidation, wrapped.Type)
	assert.Equal(t, "validate", wrapped.Operation)
	assert.Equal(t, "validation failed", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Unwrap())

	assert.Equal(t, ErrorTypeConfiguration, WrapConfigurationError(originalErr, "op", "msg").Type)
	assert.Equal(t, ErrorTypeStorage, WrapStorageError(originalErr, "op", "msg").Type)

	// Test that Wrap returns nil for nil error
	assert.Nil(t, Wrap(nil, ErrorTypeStorage, "op", "msg"))
}

func TestErrorsIsThroughChain(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := fmt.Errorf("outer: %w", WrapConfigurationError(sentinel, "load", "bad value"))

	assert.ErrorIs(t, err, sentinel)
	typ, ok := TypeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeConfiguration, typ)

	_, ok = TypeOf(sentinel)
	assert.False(t, ok)
}

func TestMarshalZerologObject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	err := NewValidationError("check", "bad").WithContext("b", 2).WithContext("a", "x")
	logger.Error().Object("error_ctx", err).Msg("failed")

	out := buf.String()
	assert.Contains(t, out, `"type":"validation"`)
	assert.Contains(t, out, `"operation":"check"`)
	assert.Contains(t, out, `"a":"x"`)
	assert.Contains(t, out, `"b":2`)
}

func TestStackTraceCapture(t *testing.T) {
	err := New(ErrorTypeValidation, "test", "message")
	// Should have captured some stack frames
	assert.Greater(t, len(err.Stack), 0)
}
