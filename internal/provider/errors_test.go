package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	assert.Equal(t, ClassConfiguration, ClassOf(ConfigError("missing key", nil)))
	assert.Equal(t, ClassTransient, ClassOf(TransientError("hiccup", nil)))
	assert.Equal(t, ClassCritical, ClassOf(CriticalError("quota", nil)))
	assert.Equal(t, ClassEmptyResponse, ClassOf(EmptyResponseError("silence")))
}

func TestUnknownErrorDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ClassTransient, ClassOf(errors.New("who knows")))
}

func TestClassOfUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("relay: %w", CriticalError("billing", nil))
	assert.Equal(t, ClassCritical, ClassOf(wrapped))
}

func TestFatalClasses(t *testing.T) {
	assert.True(t, ConfigError("x", nil).Fatal())
	assert.True(t, CriticalError("x", nil).Fatal())
	assert.False(t, TransientError("x", nil).Fatal())
	assert.False(t, EmptyResponseError("x").Fatal())
}

func TestUserMessageNeverLeaksDetail(t *testing.T) {
	err := CriticalError("quota exhausted for key sk-abc123", nil)
	msg := UserMessageOf(err)
	assert.NotContains(t, msg, "sk-abc123")
	assert.NotContains(t, msg, "quota")
	assert.NotEmpty(t, msg)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ClassCritical, classifyStatus("op", 401, nil).Class)
	assert.Equal(t, ClassCritical, classifyStatus("op", 402, nil).Class)
	assert.Equal(t, ClassCritical, classifyStatus("op", 403, nil).Class)
	assert.Equal(t, ClassTransient, classifyStatus("op", 429, nil).Class)
	assert.Equal(t, ClassTransient, classifyStatus("op", 503, nil).Class)
	assert.Equal(t, ClassTransient, classifyStatus("op", 418, nil).Class)
}
