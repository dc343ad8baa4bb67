package models

import (
	"time"
)

// Conversation は会話ログに保存される1ターン分のレコード
type Conversation struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SiteID     string    `json:"site_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	SourceURL  string    `json:"source_url,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	IsLiked    *bool     `json:"is_liked,omitempty"`
	IsDisliked *bool     `json:"is_disliked,omitempty"`
}

// Turns は保存済みレコードを会話順のChatHistoryに変換する
func Turns(conversations []Conversation) []ChatTurn {
	turns := make([]ChatTurn, 0, len(conversations))
	for _, c := range conversations {
		turns = append(turns, ChatTurn{Role: c.Role, Text: c.Content})
	}
	return turns
}
