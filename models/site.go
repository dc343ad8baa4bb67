package models

import (
	"time"
)

const SiteStatusActive = "active"

// Site is a tenant: a customer website that embeds the chatbot.
type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Site) IsActive() bool {
	return s.Status == "" || s.Status == SiteStatusActive
}
