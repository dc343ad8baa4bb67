package services

import (
	"bufio"
	"chatbot/logger"
	"chatbot/models"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	embedBatchSize      = 16
	embedConcurrency    = 4
)

var chunkIDNamespace = uuid.MustParse("6a0f7f38-4a55-4c3e-9a8e-2f1a3c1d5b70")

// Indexer splits site pages into chunks, embeds them and hands them to a
// DocumentWriter.
type Indexer struct {
	embedder  Embedder
	writer    DocumentWriter
	chunkSize int
	overlap   int
	log       *logger.Logger
}

func NewIndexer(embedder Embedder, writer DocumentWriter, log *logger.Logger) *Indexer {
	if log == nil {
		log = logger.Nop()
	}
	return &Indexer{
		embedder:  embedder,
		writer:    writer,
		chunkSize: defaultChunkSize,
		overlap:   defaultChunkOverlap,
		log:       log.With("service", "Indexer"),
	}
}

// Index は全ドキュメントをチャンク化・ベクトル化して保存し、保存したチャンク数を返す
func (ix *Indexer) Index(ctx context.Context, docs []models.Document) (int, error) {
	var chunks []models.Chunk
	for _, doc := range docs {
		if strings.TrimSpace(doc.SiteID) == "" {
			return 0, errors.Errorf("document %q has no siteId", doc.URL)
		}
		for i, text := range ChunkText(doc.Content, ix.chunkSize, ix.overlap) {
			chunks = append(chunks, models.Chunk{
				ID:      chunkID(doc.SiteID, doc.URL, i),
				SiteID:  doc.SiteID,
				URL:     doc.URL,
				Title:   doc.Title,
				Index:   i,
				Content: text,
			})
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}
			vectors, err := ix.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return errors.Wrap(err, "embed chunks")
			}
			if len(vectors) != len(batch) {
				return errors.Errorf("expected %d embeddings, got %d", len(batch), len(vectors))
			}
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := ix.writer.WriteChunks(ctx, chunks); err != nil {
		return 0, errors.Wrap(err, "write chunks")
	}
	ix.log.Info("indexed documents", "documents", len(docs), "chunks", len(chunks))
	return len(chunks), nil
}

func chunkID(siteID, url string, index int) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(siteID+"\x00"+url+"\x00"+strconv.Itoa(index))).String()
}

// ChunkText splits text into windows of size runes that overlap by overlap
// runes. Whitespace-only windows are dropped.
func ChunkText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// ReadDocuments reads one JSON document per line. Blank lines are skipped.
func ReadDocuments(r io.Reader) ([]models.Document, error) {
	var docs []models.Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc models.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		docs = append(docs, doc)
	}
	return docs, errors.Wrap(scanner.Err(), "read documents")
}
