package reasoner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r, err := New(Settings{Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.3})
	require.NoError(t, err)
	assert.NotNil(t, r)

	r, err = New(Settings{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022"})
	require.NoError(t, err)
	assert.NotNil(t, r)

	_, err = New(Settings{Provider: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reasoning provider")
}
