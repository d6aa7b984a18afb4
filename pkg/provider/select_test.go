package provider

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
)

func TestResolve(t *testing.T) {
	order, err := Resolve(Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{OpenAI, HuggingFace}, order)

	order, err = Resolve(Config{Preferred: "HuggingFace"})
	require.NoError(t, err)
	assert.Equal(t, []string{HuggingFace, OpenAI}, order)

	_, err = Resolve(Config{Preferred: "anthropic"})
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	b, err := Select(Config{OpenAI: OpenAIConfig{APIKey: "sk"}}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, OpenAI, b.Name())
	assert.Empty(t, buf.String())

	b, err = Select(Config{Preferred: OpenAI, HuggingFace: HuggingFaceConfig{APIKey: "hf"}}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, HuggingFace, b.Name())
	assert.Contains(t, buf.String(), "falling back")

	b, err = Select(Config{
		Preferred:   HuggingFace,
		OpenAI:      OpenAIConfig{APIKey: "sk"},
		HuggingFace: HuggingFaceConfig{APIKey: "hf"},
	}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, HuggingFace, b.Name())

	_, err = Select(Config{}, nil, log)
	assert.True(t, apperr.IsConfiguration(err))
}
