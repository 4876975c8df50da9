package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedClient struct{ name string }

func (c namedClient) Complete(context.Context, *CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Content: c.name}, nil
}
func (c namedClient) Name() string { return c.name }

func errorsIsRejected(err error) bool {
	return errors.Is(err, ErrRequestRejected)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(ProviderAnthropic)

	_, err := r.For("openai")
	require.Error(t, err, "empty registry")

	r.Register(namedClient{name: "anthropic"})
	r.Register(namedClient{name: "openai"})
	assert.Equal(t, 2, r.Len())

	c, err := r.For("OpenAI")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = r.For("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name(), "falls back")

	c, err = r.For("mistral")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, errorsIsRejected(classifyStatus(400, base)))
	assert.True(t, errorsIsRejected(classifyStatus(404, base)))
	assert.False(t, errorsIsRejected(classifyStatus(429, base)))
	assert.False(t, errorsIsRejected(classifyStatus(408, base)))
	assert.False(t, errorsIsRejected(classifyStatus(503, base)))
}
