package models

import (
	"net/url"
	"strings"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
)

// ValidateRaw checks a scraper tuple before normalization.
func ValidateRaw(raw RawDocument) error {
	if strings.TrimSpace(raw.Content) == "" && strings.TrimSpace(raw.Title) == "" {
		return faults.Invalid("content", "title and content are both empty")
	}
	if strings.TrimSpace(raw.Source) == "" {
		return faults.Invalid("source", "required")
	}
	u := strings.TrimSpace(raw.URL)
	if u == "" {
		return faults.Invalid("url", "required")
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return faults.Invalid("url", "must be an absolute http(s) url")
	}
	if st := strings.ToLower(strings.TrimSpace(raw.SourceType)); st != "" && !SourceType(st).Valid() {
		return faults.Invalid("sourceType", "unknown source type "+raw.SourceType)
	}
	return nil
}

// ValidateCandidate checks a claim returned by the extraction service.
func ValidateCandidate(c CandidateClaim) error {
	if strings.TrimSpace(c.ClaimText) == "" {
		return faults.Invalid("claimText", "required")
	}
	if c.SuggestedRisk != "" {
		if _, ok := ParseRiskLevel(string(c.SuggestedRisk)); !ok {
			return faults.Invalid("riskLevel", "unknown risk level "+string(c.SuggestedRisk))
		}
	}
	return nil
}

// ValidateClaim checks a claim before it is saved.
func ValidateClaim(c Claim) error {
	if strings.TrimSpace(c.ID) == "" {
		return faults.Invalid("id", "required")
	}
	if strings.TrimSpace(c.ClaimText) == "" {
		return faults.Invalid("claim_text", "required")
	}
	if len(c.DocumentIDs) == 0 {
		return faults.Invalid("document_ids", "a claim needs at least one origin document")
	}
	if c.RiskLevel != "" && c.Status != StatusVerified && c.Status != StatusPublished && c.Status != StatusRetracted {
		return faults.Invalid("risk_level", "only defined from verified onwards")
	}
	return nil
}

// ValidateVerdict checks a verdict before it is persisted.
func ValidateVerdict(v Verdict) error {
	if strings.TrimSpace(v.ClaimID) == "" {
		return faults.Invalid("claim_id", "required")
	}
	if _, ok := ParseConclusion(string(v.Conclusion)); !ok {
		return faults.Invalid("conclusion", "unknown conclusion "+string(v.Conclusion))
	}
	if strings.TrimSpace(v.Rationale) == "" {
		return faults.Invalid("rationale", "required")
	}
	return nil
}

// ValidateActor checks an actor before it is stored.
func ValidateActor(a Actor) error {
	if strings.TrimSpace(a.Name) == "" {
		return faults.Invalid("name", "required")
	}
	if _, ok := ParseActorKind(string(a.Kind)); !ok {
		return faults.Invalid("kind", "unknown actor kind "+string(a.Kind))
	}
	return nil
}
