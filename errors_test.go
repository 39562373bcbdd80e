package dbmap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := newError(ErrCodeTemplateNotFound, "select template '%s' not found", "x")
	assert.Equal(t, "dbmap: TemplateNotFound: select template 'x' not found", err.Error())

	cause := errors.New("driver: bad connection")
	wrapped := wrapError(cause, ErrCodeExecutionFailed, "reader failed")
	assert.Equal(t, "dbmap: ExecutionFailed: reader failed: driver: bad connection", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := newError(ErrCodeMappingNotFound, "mapping 'x' not found")
	assert.ErrorIs(t, err, ErrMappingNotFound)
	assert.NotErrorIs(t, err, ErrTemplateNotFound)

	outer := fmt.Errorf("loading: %w", err)
	assert.ErrorIs(t, outer, ErrMappingNotFound)
	assert.True(t, IsCode(outer, ErrCodeMappingNotFound))
	assert.Equal(t, ErrCodeMappingNotFound, CodeOf(outer))
}

func TestWrapErrorKeepsExistingCode(t *testing.T) {
	inner := newError(ErrCodeParameterValueMissing, "no value")
	err := wrapError(inner, ErrCodeExecutionFailed, "outer")
	assert.Same(t, inner, err)
	assert.Nil(t, wrapError(nil, ErrCodeExecutionFailed, "outer"))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.False(t, IsCode(nil, ErrCodeExecutionFailed))
}
