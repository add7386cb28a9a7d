// Package extract is the boundary to the external claim extraction service.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/processing"
)

const service = "claim extractor"

const (
	// MaxClaims caps the claims kept per document.
	MaxClaims = 3
	// MinConfidence drops candidates the model is unsure about.
	MinConfidence = 60
	// MaxContentChars bounds the document body sent in the prompt.
	MaxContentChars = 3000
)

// Extractor turns a document into candidate claims.
type Extractor interface {
	Extract(ctx context.Context, doc models.Document) ([]models.CandidateClaim, error)
}

const systemPrompt = `You are a media analyst working for a fact-checking desk.
Extract verifiable factual assertions from the news article you are given.

Extract: statements by politicians, officials or public figures; specific
numbers (statistics, budgets, amounts); concrete promises or commitments;
claims about recent events, public policy, laws or regulations; extraordinary
assertions that need evidence.

Do not extract: opinions without factual content, vague generalities,
trivial information, predictions without factual basis, purely emotional
statements.

Categories: politics, economy, health, security, infrastructure, other.
Risk levels: LOW (technical, low social impact), MEDIUM (minor officials,
unverified data), HIGH (authorities, controversial data), CRITICAL (could
cause panic or dangerous misinformation).

Reply ONLY with JSON of the form:
{"claims":[{"title":"short headline","text":"the exact assertion","speaker":"who said it",
"speakerType":"person|official|organization|media_outlet",
"context":"one or two sentences of context","category":"economy","tags":["tag"],
"riskLevel":"LOW|MEDIUM|HIGH|CRITICAL","isVerifiable":true,"confidence":0-100}]}

Return at most 3 claims, the most important ones. If there are none reply {"claims":[]}.`

// OpenAI extracts claims with a chat completion in JSON mode.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an extractor for an OpenAI-compatible endpoint.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("claim extractor needs an API key or a base URL")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Extract asks the model for claims and filters them.
func (e *OpenAI) Extract(ctx context.Context, doc models.Document) ([]models.CandidateClaim, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(doc)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, faults.Upstream(service, err)
	}
	if len(resp.Choices) == 0 {
		return nil, faults.Upstream(service, errors.New("no choices in response"))
	}

	claims, err := Parse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, faults.Upstream(service, err)
	}
	return claims, nil
}

// UserPrompt renders the article part of the extraction prompt.
func UserPrompt(doc models.Document) string {
	content := doc.Content
	truncated := false
	if r := []rune(content); len(r) > MaxContentChars {
		content = string(r[:MaxContentChars])
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Article from %s (%s)\n\n", doc.Source, doc.SourceType)
	fmt.Fprintf(&b, "Title: %s\n\n", doc.Title)
	fmt.Fprintf(&b, "Content:\n%s\n", content)
	if truncated {
		b.WriteString("...(content truncated)\n")
	}
	b.WriteString("\nExtract the most important verifiable claims of this article.")
	return b.String()
}

type rawClaim struct {
	Title        string   `json:"title"`
	Text         string   `json:"text"`
	ClaimText    string   `json:"claimText"`
	Speaker      string   `json:"speaker"`
	SpeakerType  string   `json:"speakerType"`
	Context      string   `json:"context"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags"`
	RiskLevel    string   `json:"riskLevel"`
	IsVerifiable *bool    `json:"isVerifiable"`
	Confidence   *int     `json:"confidence"`
}

// Parse decodes a model reply into candidate claims, keeping only verifiable
// ones with enough confidence, at most MaxClaims.
func Parse(content string) ([]models.CandidateClaim, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, errors.New("reply contains no JSON object")
	}

	var payload struct {
		Claims []rawClaim `json:"claims"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	out := make([]models.CandidateClaim, 0, len(payload.Claims))
	for _, rc := range payload.Claims {
		if rc.IsVerifiable != nil && !*rc.IsVerifiable {
			continue
		}
		confidence := 100
		if rc.Confidence != nil {
			confidence = *rc.Confidence
		}
		if confidence < MinConfidence {
			continue
		}

		text := strings.TrimSpace(rc.Text)
		if text == "" {
			text = strings.TrimSpace(rc.ClaimText)
		}
		risk, _ := models.ParseRiskLevel(rc.RiskLevel)
		var speakerKind models.ActorKind
		if strings.TrimSpace(rc.SpeakerType) != "" {
			speakerKind, _ = models.ParseActorKind(rc.SpeakerType)
		}

		c := models.CandidateClaim{
			Title:         strings.TrimSpace(rc.Title),
			Description:   strings.TrimSpace(firstNonEmpty(rc.Description, rc.Context)),
			ClaimText:     text,
			Category:      strings.ToLower(strings.TrimSpace(rc.Category)),
			Tags:          cleanTags(rc.Tags),
			Speaker:       strings.TrimSpace(rc.Speaker),
			SpeakerKind:   speakerKind,
			Confidence:    confidence,
			SuggestedRisk: risk,
		}
		if c.Title == "" {
			c.Title = processing.GenerateTitleFromText(text, processing.MaxTitleWords)
		}
		if err := models.ValidateCandidate(c); err != nil {
			continue
		}
		out = append(out, c)
		if len(out) == MaxClaims {
			break
		}
	}
	return out, nil
}

func cleanTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
