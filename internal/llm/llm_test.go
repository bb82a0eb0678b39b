package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckEmbeddings(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckEmbeddings(0, nil))
	require.NoError(t, CheckEmbeddings(2, [][]float32{{1, 2}, {3, 4}}))
	require.ErrorContains(t, CheckEmbeddings(2, [][]float32{{1, 2}}), "expected 2 embeddings")
	require.ErrorContains(t, CheckEmbeddings(2, [][]float32{{1, 2}, {3}}), "dimension 1")
	require.ErrorIs(t, CheckEmbeddings(1, [][]float32{{}}), ErrEmptyResponse)
}
