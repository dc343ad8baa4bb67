package models

import "strconv"

const (
	MetadataURL    = "url"
	MetadataTitle  = "title"
	MetadataSiteID = "site_id"
	MetadataChunk  = "chunk"
)

// RetrievedDocument is a single vector search hit. It only lives for the
// duration of one question.
type RetrievedDocument struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

func (d RetrievedDocument) URL() string    { return d.Metadata[MetadataURL] }
func (d RetrievedDocument) Title() string  { return d.Metadata[MetadataTitle] }
func (d RetrievedDocument) SiteID() string { return d.Metadata[MetadataSiteID] }

// Document is one page handed to the indexer.
type Document struct {
	SiteID  string `json:"siteId"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Chunk is an embedded slice of a Document ready to be written to a vector store.
type Chunk struct {
	ID        string
	SiteID    string
	URL       string
	Title     string
	Index     int
	Content   string
	Embedding []float32
}

func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetadataURL:    c.URL,
		MetadataTitle:  c.Title,
		MetadataSiteID: c.SiteID,
		MetadataChunk:  strconv.Itoa(c.Index),
	}
}
