package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"primate-rag/internal/domain"
)

func TestNew_MissingKey(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "")
	_, err := New(context.Background(), Config{APIKeyEnv: "TEST_GEMINI_KEY"})
	assert.Error(t, err)
}

func TestNew_TaskTypeAndVersion(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "test-key")

	e, err := New(context.Background(), Config{APIKeyEnv: "TEST_GEMINI_KEY"})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, genai.TaskTypeRetrievalDocument, e.model.TaskType)
	assert.Equal(t, "gemini:"+DefaultModel, e.ModelVersion())
	assert.Zero(t, e.Dimension())

	q, err := New(context.Background(), Config{APIKeyEnv: "TEST_GEMINI_KEY", Model: "embedding-001", TaskType: "retrieval_query"})
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, genai.TaskTypeRetrievalQuery, q.model.TaskType)
	assert.Equal(t, "gemini:embedding-001", q.ModelVersion())
}

func TestEmbed_EmptyInputNeverCallsAPI(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "test-key")
	e, err := New(context.Background(), Config{APIKeyEnv: "TEST_GEMINI_KEY"})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(context.Background(), "   ")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
