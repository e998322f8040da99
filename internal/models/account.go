// Package models defines the core domain entities: monitored accounts,
// fetched content, analysis results, signals, and rejections.
package models

import (
	"errors"
	"time"
)

// Account is one monitored publisher. The cursor is the last-seen item
// marker (a tweet ID) and only ever moves forward.
type Account struct {
	ID      string    `json:"id"`
	Handle  string    `json:"handle"`
	Cursor  string    `json:"cursor"`
	Enabled bool      `json:"enabled"`
	AddedAt time.Time `json:"added_at"`
}

// Validate checks account field constraints.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("account ID must not be empty")
	}
	if a.Handle == "" {
		return errors.New("account handle must not be empty")
	}
	if a.AddedAt.IsZero() {
		return errors.New("account added_at must be set")
	}
	return nil
}

// Modality classifies the dominant media type of a content item.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// ContentItem is one unit of monitored content awaiting analysis.
type ContentItem struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Text      string    `json:"text"`
	MediaURL  string    `json:"media_url,omitempty"`
	Modality  Modality  `json:"modality"`
	PostedAt  time.Time `json:"posted_at"`
}
