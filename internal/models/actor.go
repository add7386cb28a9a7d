package models

import (
	"strings"
	"time"
)

// ActorKind describes what sort of entity an actor is.
type ActorKind string

const (
	ActorPerson       ActorKind = "person"
	ActorOrganization ActorKind = "organization"
	ActorMediaOutlet  ActorKind = "media_outlet"
	ActorOfficial     ActorKind = "official"
	ActorAnonymous    ActorKind = "anonymous"
)

// ParseActorKind defaults an empty value to person.
func ParseActorKind(raw string) (ActorKind, bool) {
	k := ActorKind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case "":
		return ActorPerson, true
	case ActorPerson, ActorOrganization, ActorMediaOutlet, ActorOfficial, ActorAnonymous:
		return k, true
	}
	return "", false
}

// Actor is a tracked person or organization subject to due diligence.
type Actor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Aliases      []string     `json:"aliases,omitempty"`
	Kind         ActorKind    `json:"kind"`
	ClaimIDs     []string     `json:"claim_ids,omitempty"`
	RiskScore    int          `json:"risk_score"`
	RiskTier     RiskLevel    `json:"risk_tier,omitempty"`
	Basis        []BasisEntry `json:"basis,omitempty"`
	LastScoredAt *time.Time   `json:"last_scored_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// BasisEntry is one verdict's contribution to an actor's risk score.
type BasisEntry struct {
	VerdictID    string     `json:"verdict_id"`
	ClaimID      string     `json:"claim_id"`
	Conclusion   Conclusion `json:"conclusion"`
	PublishedAt  time.Time  `json:"published_at"`
	Weight       float64    `json:"weight"`
	Contribution float64    `json:"contribution"`
}

// RiskProfile is the outcome of a risk recomputation.
type RiskProfile struct {
	Score int          `json:"score"`
	Tier  RiskLevel    `json:"tier"`
	Basis []BasisEntry `json:"basis"`
}
