package services

import (
	"chatbot/models"
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	chunks []models.Chunk
}

func (w *recordingWriter) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append(w.chunks, chunks...)
	return nil
}

type failingEmbedder struct{ keywordEmbedder }

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("rate limited")
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("あ", 250)
	chunks := ChunkText(text, 100, 20)

	require.Len(t, chunks, 3)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[1]))
	assert.Equal(t, 90, utf8.RuneCountInString(chunks[2]))
}

func TestChunkTextEdgeCases(t *testing.T) {
	assert.Nil(t, ChunkText("   ", 100, 20))
	assert.Equal(t, []string{"短い"}, ChunkText("短い", 100, 20))
	// overlapがsize以上なら重ねない
	assert.Len(t, ChunkText(strings.Repeat("x", 30), 10, 10), 3)
}

func TestIndexEmbedsAndWrites(t *testing.T) {
	writer := &recordingWriter{}
	ix := NewIndexer(newKeywordEmbedder("料金"), writer, nil)
	ix.chunkSize, ix.overlap = 10, 2

	docs := []models.Document{
		{SiteID: "site-a", URL: "https://a/p", Title: "料金", Content: strings.Repeat("料金の説明です。", 20)},
		{SiteID: "site-b", URL: "https://b/p", Title: "会社", Content: "会社概要"},
	}
	n, err := ix.Index(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, len(writer.chunks), n)
	assert.Greater(t, n, embedBatchSize)

	ids := map[string]bool{}
	for _, c := range writer.chunks {
		assert.Len(t, c.Embedding, 2)
		assert.Equal(t, c.SiteID, c.Metadata()[models.MetadataSiteID])
		ids[c.ID] = true
	}
	assert.Len(t, ids, n)

	// 同じ入力なら同じIDになる（再取り込みで上書きされる）
	again := &recordingWriter{}
	ix.writer = again
	_, err = ix.Index(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, writer.chunks[0].ID, again.chunks[0].ID)
}

func TestIndexRequiresSiteID(t *testing.T) {
	ix := NewIndexer(newKeywordEmbedder(), &recordingWriter{}, nil)
	_, err := ix.Index(context.Background(), []models.Document{{URL: "https://a", Content: "x"}})
	assert.Error(t, err)
}

func TestIndexEmbedFailure(t *testing.T) {
	writer := &recordingWriter{}
	ix := NewIndexer(&failingEmbedder{}, writer, nil)

	_, err := ix.Index(context.Background(), []models.Document{{SiteID: "s", URL: "u", Content: "本文"}})
	assert.Error(t, err)
	assert.Empty(t, writer.chunks)
}

func TestReadDocuments(t *testing.T) {
	input := `{"siteId":"site-a","url":"https://a/1","title":"料金","content":"料金表"}

{"siteId":"site-a","url":"https://a/2","title":"導入","content":"導入手順"}
`
	docs, err := ReadDocuments(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "https://a/2", docs[1].URL)

	_, err = ReadDocuments(strings.NewReader("{broken"))
	assert.ErrorContains(t, err, "line 1")
}
