package models

import "time"

// GenerationRecord is one logged coordinator outcome.
type GenerationRecord struct {
	RequestID   string    `json:"request_id"`
	Workspace   string    `json:"workspace"`
	Slot        Slot      `json:"slot"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	Cached      bool      `json:"cached"`
	PromptChars int       `json:"prompt_chars"`
	Tokens      int       `json:"tokens"`
	LatencyMs   int64     `json:"latency_ms"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditConfig controls the generation log.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxErrorSize  int    `yaml:"max_error_size"` // bytes
}

// AuditQueryOpts specifies filters for querying the generation log.
type AuditQueryOpts struct {
	Workspace string
	Slot      Slot
	Status    string
	Since     time.Time
	Limit     int
}

// AuditStat holds aggregate counts for a slot/status/day combination.
type AuditStat struct {
	Slot   Slot
	Status string
	Day    string
	Count  int
}
