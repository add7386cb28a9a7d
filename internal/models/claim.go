package models

import (
	"strings"
	"time"
)

// ClaimStatus is a state of the claim review workflow.
type ClaimStatus string

const (
	StatusReceived          ClaimStatus = "received"
	StatusExtractionPending ClaimStatus = "extraction_pending"
	StatusUnderReview       ClaimStatus = "under_review"
	StatusVerified          ClaimStatus = "verified"
	StatusPublished         ClaimStatus = "published"
	StatusRejected          ClaimStatus = "rejected"
	StatusRetracted         ClaimStatus = "retracted"
)

// ParseClaimStatus maps a string to a known status.
func ParseClaimStatus(raw string) (ClaimStatus, bool) {
	s := ClaimStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusReceived, StatusExtractionPending, StatusUnderReview, StatusVerified,
		StatusPublished, StatusRejected, StatusRetracted:
		return s, true
	}
	return "", false
}

// Terminal reports whether no transition leaves s.
func (s ClaimStatus) Terminal() bool {
	return s == StatusRejected || s == StatusRetracted
}

// RiskLevel classifies the potential harm of a claim or actor.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel accepts lower or upper case spellings.
func ParseRiskLevel(raw string) (RiskLevel, bool) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(raw)))
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return r, true
	}
	return "", false
}

// StatusChange is one entry of a claim's audit trail.
type StatusChange struct {
	From ClaimStatus `json:"from,omitempty"`
	To   ClaimStatus `json:"to"`
	At   time.Time   `json:"at"`
	Note string      `json:"note,omitempty"`
}

// Claim is a factual assertion extracted from one or more documents.
type Claim struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	ClaimText        string         `json:"claim_text"`
	Category         string         `json:"category,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Speaker          string         `json:"speaker,omitempty"`
	Confidence       int            `json:"confidence,omitempty"`
	SuggestedRisk    RiskLevel      `json:"suggested_risk,omitempty"`
	DocumentIDs      []string       `json:"document_ids"`
	Status           ClaimStatus    `json:"status"`
	RiskLevel        RiskLevel      `json:"risk_level,omitempty"`
	Version          int64          `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	LastTransitionAt time.Time      `json:"last_transition_at"`
	History          []StatusChange `json:"history,omitempty"`
}

// CandidateClaim is what the extraction service returns for a document.
type CandidateClaim struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ClaimText     string    `json:"claimText"`
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	Speaker       string    `json:"speaker,omitempty"`
	SpeakerKind   ActorKind `json:"speakerType,omitempty"`
	Confidence    int       `json:"confidence,omitempty"`
	SuggestedRisk RiskLevel `json:"riskLevel,omitempty"`
}

// ClaimFilter narrows ListClaims. Zero values match everything.
type ClaimFilter struct {
	Status     ClaimStatus
	Category   string
	Risk       RiskLevel
	Tag        string
	DocumentID string
}

// Matches reports whether c passes the filter.
func (f ClaimFilter) Matches(c Claim) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Category != "" && !strings.EqualFold(c.Category, f.Category) {
		return false
	}
	if f.Risk != "" && c.RiskLevel != f.Risk {
		return false
	}
	if f.Tag != "" && !containsFold(c.Tags, f.Tag) {
		return false
	}
	if f.DocumentID != "" && !contains(c.DocumentIDs, f.DocumentID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
