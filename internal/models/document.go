package models

import "time"

// SourceType is the category of the outlet a document came from.
type SourceType string

const (
	SourceMedia    SourceType = "media"
	SourceOfficial SourceType = "official"
	SourceSocial   SourceType = "social_media"
)

// Valid reports whether t is a known source category.
func (t SourceType) Valid() bool {
	switch t {
	case SourceMedia, SourceOfficial, SourceSocial:
		return true
	}
	return false
}

// DedupStatus records how a document relates to previously stored content.
type DedupStatus string

const (
	DedupUnchecked          DedupStatus = "unchecked"
	DedupUnique             DedupStatus = "unique"
	DedupNearDuplicate      DedupStatus = "near_duplicate"
	DedupPossibleDuplicate  DedupStatus = "possible_duplicate"
	DedupConfirmedUnique    DedupStatus = "confirmed_unique"
	DedupConfirmedDuplicate DedupStatus = "confirmed_duplicate"
)

// Flagged reports whether the document waits for a manual dedup decision.
func (s DedupStatus) Flagged() bool {
	return s == DedupNearDuplicate || s == DedupPossibleDuplicate
}

// Stage tracks claim extraction progress for a stored document.
type Stage string

const (
	StageStored            Stage = "stored"
	StageExtractionPending Stage = "extraction_pending"
	StageExtracted         Stage = "extracted"
	// StageExtractionFailed is terminal: extraction kept failing with
	// non-retryable errors and the sweeper no longer picks the document up.
	StageExtractionFailed Stage = "extraction_failed"
)

// RawDocument is the tuple delivered by scraper feeds.
type RawDocument struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	Source        string `json:"source"`
	SourceType    string `json:"sourceType,omitempty"`
	Author        string `json:"author,omitempty"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

// Document is the canonical ingested unit stored by the content store.
type Document struct {
	ID          string     `json:"id"`
	ContentHash string     `json:"content_hash"`
	Source      string     `json:"source"`
	SourceType  SourceType `json:"source_type"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Author      string     `json:"author,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	URLs        []string   `json:"urls,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
	IngestedAt  time.Time  `json:"ingested_at"`
	Embedding   []float32  `json:"embedding,omitempty"`

	DocumentState
}

// DocumentState holds the mutable processing fields of a document.
// Content fields above never change after the first put.
type DocumentState struct {
	DedupStatus   DedupStatus `json:"dedup_status"`
	DuplicateOf   string      `json:"duplicate_of,omitempty"`
	Similarity    float64     `json:"similarity,omitempty"`
	Stage         Stage       `json:"stage"`
	RetryDeferred bool        `json:"retry_deferred"`
	RetryAttempts int         `json:"retry_attempts,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	ClaimIDs      []string    `json:"claim_ids,omitempty"`
}
