package models

import (
	"strings"
	"time"
)

// Conclusion is the published judgment about a claim.
type Conclusion string

const (
	ConclusionTrue            Conclusion = "true"
	ConclusionFalse           Conclusion = "false"
	ConclusionMisleading      Conclusion = "misleading"
	ConclusionUnsubstantiated Conclusion = "unsubstantiated"
	ConclusionSatire          Conclusion = "satire"
)

// ParseConclusion maps a string to a known conclusion.
func ParseConclusion(raw string) (Conclusion, bool) {
	c := Conclusion(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case ConclusionTrue, ConclusionFalse, ConclusionMisleading, ConclusionUnsubstantiated, ConclusionSatire:
		return c, true
	}
	return "", false
}

// Verdict is a published judgment. Superseded verdicts stay stored with Active=false.
type Verdict struct {
	ID           string     `json:"id"`
	ClaimID      string     `json:"claim_id"`
	Conclusion   Conclusion `json:"conclusion"`
	Rationale    string     `json:"rationale"`
	Reviewer     string     `json:"reviewer,omitempty"`
	PublishedAt  time.Time  `json:"published_at"`
	Revision     int        `json:"revision"`
	Supersedes   string     `json:"supersedes,omitempty"`
	Active       bool       `json:"active"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}
