package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewModelError_Defaults(t *testing.T) {
	err := NewModelError("", 0)
	assert.Equal(t, "Error in model inference", err.Message)
	assert.Equal(t, 400, err.HTTPStatus)
	assert.Equal(t, KindModelError, err.Kind)
}

func TestNewModelError_CustomValues(t *testing.T) {
	err := NewModelError("bad input", 422)
	assert.Equal(t, "bad input", err.Message)
	assert.Equal(t, 422, err.HTTPStatus)
}

func TestAsTaskError_PassesThroughTaskError(t *testing.T) {
	original := NewModelError("boom", 500)
	got := asTaskError(original)
	assert.Same(t, original, got)
}

func TestAsTaskError_WrapsPlainError(t *testing.T) {
	got := asTaskError(errors.New("whatever went wrong"))
	assert.Equal(t, KindUnknownError, got.Kind)
	assert.Equal(t, "whatever went wrong", got.Message)
	assert.Equal(t, 400, got.HTTPStatus)
}

func TestAsTaskError_Nil(t *testing.T) {
	assert.Nil(t, asTaskError(nil))
}

func TestTaskError_ErrorString(t *testing.T) {
	err := &TaskError{Kind: KindWorkerCrash, Message: "pipe closed"}
	assert.Equal(t, "WorkerCrash: pipe closed", err.Error())
}
