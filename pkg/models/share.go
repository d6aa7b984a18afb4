package models

import "time"

// Snippet is a shared code document.
type Snippet struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
