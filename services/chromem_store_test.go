package services

import (
	"chatbot/logger"
	"chatbot/models"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemStorePersists(t *testing.T) {
	dir := t.TempDir()
	embedder := newKeywordEmbedder("料金", "導入")

	store, err := NewChromemStore(dir, EmbeddingFunc(embedder))
	require.NoError(t, err)
	_, err = NewIndexer(embedder, store, logger.Nop()).Index(context.Background(), []models.Document{
		{SiteID: "site-a", URL: "https://a/pricing", Title: "料金", Content: "料金のご案内"},
	})
	require.NoError(t, err)

	reopened, err := NewChromemStore(dir, EmbeddingFunc(embedder))
	require.NoError(t, err)
	docs, err := reopened.Search(context.Background(), "site-a", "料金", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://a/pricing", docs[0].URL())
	assert.Equal(t, "料金", docs[0].Title())
}

func TestChromemStoreCollectionPerSite(t *testing.T) {
	assert.Equal(t, "site_a1_documents", collectionName("a1"))
	assert.NotEqual(t, collectionName("a"), collectionName("b"))
}
