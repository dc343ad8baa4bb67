package services

import (
	"chatbot/models"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

var ErrSiteNotFound = errors.New("site not found")

// SupabaseService talks to the hosted Postgres through its REST interface.
// It serves as the site record store and as a vector store backed by the
// match_documents function:
//
//	create function match_documents(query_embedding vector(1536), match_count int, filter jsonb)
//	returns table (id text, content text, metadata jsonb, similarity float)
type SupabaseService struct {
	client   *resty.Client
	embedder Embedder
}

func NewSupabaseService(baseURL, serviceKey string, embedder Embedder) *SupabaseService {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/rest/v1").
		SetHeader("apikey", serviceKey).
		SetHeader("Authorization", "Bearer "+serviceKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)
	return &SupabaseService{client: client, embedder: embedder}
}

type supabaseMatch struct {
	ID         any             `json:"id"`
	Content    string          `json:"content"`
	Metadata   json.RawMessage `json:"metadata"`
	Similarity float64         `json:"similarity"`
}

// Search embeds the query and calls match_documents filtered by site_id.
func (s *SupabaseService) Search(ctx context.Context, siteID string, query string, k int) ([]models.RetrievedDocument, error) {
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "vectorization failed")
	}

	var matches []supabaseMatch
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"query_embedding": queryVector,
			"match_count":     k,
			"filter":          map[string]string{models.MetadataSiteID: siteID},
		}).
		SetResult(&matches).
		Post("/rpc/match_documents")
	if err != nil {
		return nil, errors.Wrap(err, "match_documents request failed")
	}
	if resp.IsError() {
		return nil, errors.Errorf("match_documents failed, status: %d", resp.StatusCode())
	}

	docs := make([]models.RetrievedDocument, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, models.RetrievedDocument{
			ID:       idString(m.ID),
			Content:  m.Content,
			Metadata: decodeMetadata(m.Metadata),
			Score:    m.Similarity,
		})
	}
	return docs, nil
}

type supabaseDocument struct {
	ID        string            `json:"id"`
	SiteID    string            `json:"site_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding"`
}

// WriteChunks upserts chunks into the documents table.
func (s *SupabaseService) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]supabaseDocument, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, supabaseDocument{
			ID:        c.ID,
			SiteID:    c.SiteID,
			Content:   c.Content,
			Metadata:  c.Metadata(),
			Embedding: c.Embedding,
		})
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetBody(rows).
		Post("/documents")
	if err != nil {
		return errors.Wrap(err, "insert documents failed")
	}
	if resp.IsError() {
		return errors.Errorf("insert documents failed, status: %d, body: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetSite selects one site by id.
func (s *SupabaseService) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	var sites []models.Site
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select": "id,name,url,status,created_at",
			"id":     "eq." + siteID,
			"limit":  "1",
		}).
		SetResult(&sites).
		Get("/sites")
	if err != nil {
		return nil, errors.Wrap(err, "select site failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("select site failed, status: %d", resp.StatusCode())
	}
	if len(sites) == 0 {
		return nil, ErrSiteNotFound
	}
	return &sites[0], nil
}

// ListSites returns all sites, oldest first.
func (s *SupabaseService) ListSites(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select": "id,name,url,status,created_at",
			"order":  "created_at.asc",
		}).
		SetResult(&sites).
		Get("/sites")
	if err != nil {
		return nil, errors.Wrap(err, "list sites failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("list sites failed, status: %d", resp.StatusCode())
	}
	return sites, nil
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
