// Package workflow enforces the claim review lifecycle:
//
//	received -> extraction_pending -> under_review -> verified -> published -> retracted
//
// with rejected reachable from extraction_pending and under_review. Every
// change is a compare-and-set on the claim version.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

var transitions = map[models.ClaimStatus][]models.ClaimStatus{
	models.StatusReceived:          {models.StatusExtractionPending},
	models.StatusExtractionPending: {models.StatusUnderReview, models.StatusRejected},
	models.StatusUnderReview:       {models.StatusVerified, models.StatusRejected},
	models.StatusVerified:          {models.StatusPublished},
	models.StatusPublished:         {models.StatusRetracted},
}

// Next lists the statuses reachable from s in one step.
func Next(s models.ClaimStatus) []models.ClaimStatus {
	return append([]models.ClaimStatus(nil), transitions[s]...)
}

// CanTransition reports whether from -> to is a single allowed step.
func CanTransition(from, to models.ClaimStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EventType names the notifications emitted by the machine.
type EventType string

const (
	EventPublished EventType = "published"
	EventRetracted EventType = "retracted"
)

// Event tells downstream consumers that a claim's verdict changed.
type Event struct {
	Type       EventType
	ClaimID    string
	VerdictID  string
	Conclusion models.Conclusion
	Revision   int
	At         time.Time
}

// Notifier receives verdict events. Delivery failures are logged, not returned.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Repository is the slice of the content store the machine needs.
type Repository interface {
	store.Claims
	store.Verdicts
}

// TransitionInput carries the caller supplied data of a transition.
type TransitionInput struct {
	Risk      models.RiskLevel
	Rationale string
	Actor     string
}

// VerdictInput is a verdict to publish.
type VerdictInput struct {
	Conclusion models.Conclusion
	Rationale  string
	Reviewer   string
}

// Machine applies validated transitions.
type Machine struct {
	repo     Repository
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// Option customises a Machine.
type Option func(*Machine)

// WithNotifier sets the verdict event sink.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) { m.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine over repo.
func New(repo Repository, log *slog.Logger, opts ...Option) *Machine {
	if log == nil {
		log = slog.Default()
	}
	m := &Machine{repo: repo, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transition moves a claim one step along the lifecycle.
func (m *Machine) Transition(ctx context.Context, claimID string, expectedVersion int64, to models.ClaimStatus, in TransitionInput) (*models.Claim, error) {
	claim, err := m.load(ctx, claimID, expectedVersion)
	if err != nil {
		return nil, m.reject(err)
	}
	if err := m.check(ctx, claim, to, in); err != nil {
		return nil, m.reject(err)
	}

	updated, err := m.repo.UpdateClaimStatus(ctx, claimID, expectedVersion, store.ClaimUpdate{
		Status: to,
		Risk:   riskFor(to, in.Risk),
		Note:   note(in),
		At:     m.now().UTC(),
	})
	if err != nil {
		return nil, m.reject(err)
	}
	m.applied(claim.Status, to, claimID)

	switch to {
	case models.StatusPublished:
		if v, err := m.repo.ActiveVerdict(ctx, claimID); err == nil {
			m.notify(ctx, Event{Type: EventPublished, ClaimID: claimID, VerdictID: v.ID, Conclusion: v.Conclusion, Revision: v.Revision, At: updated.LastTransitionAt})
		}
	case models.StatusRetracted:
		m.notify(ctx, Event{Type: EventRetracted, ClaimID: claimID, At: updated.LastTransitionAt})
	}
	return updated, nil
}

// PublishVerdict moves a verified claim to published and records the verdict.
// On an already published claim the new verdict supersedes the active one;
// the status stays published but the version still advances, so a reviewer
// holding an older version gets a conflict.
func (m *Machine) PublishVerdict(ctx context.Context, claimID string, expectedVersion int64, in VerdictInput) (*models.Claim, *models.Verdict, error) {
	claim, err := m.load(ctx, claimID, expectedVersion)
	if err != nil {
		return nil, nil, m.reject(err)
	}
	if claim.Status != models.StatusVerified && claim.Status != models.StatusPublished {
		return nil, nil, m.reject(&faults.TransitionError{
			From:   string(claim.Status),
			To:     string(models.StatusPublished),
			Reason: "a verdict needs a verified claim",
		})
	}

	now := m.now().UTC()
	verdict := models.Verdict{
		ClaimID:     claimID,
		Conclusion:  models.Conclusion(strings.ToLower(strings.TrimSpace(string(in.Conclusion)))),
		Rationale:   strings.TrimSpace(in.Rationale),
		Reviewer:    strings.TrimSpace(in.Reviewer),
		PublishedAt: now,
	}
	if err := models.ValidateVerdict(verdict); err != nil {
		return nil, nil, m.reject(err)
	}

	noteText := "verdict " + string(verdict.Conclusion)
	if claim.Status == models.StatusPublished {
		noteText = "verdict superseded by " + string(verdict.Conclusion)
	}
	if verdict.Reviewer != "" {
		noteText += " (by " + verdict.Reviewer + ")"
	}

	updated, saved, err := m.repo.CommitVerdict(ctx, expectedVersion, verdict, store.ClaimUpdate{
		Status: models.StatusPublished,
		Note:   noteText,
		At:     now,
	})
	if err != nil {
		return nil, nil, m.reject(err)
	}
	m.applied(claim.Status, models.StatusPublished, claimID)

	m.notify(ctx, Event{
		Type:       EventPublished,
		ClaimID:    claimID,
		VerdictID:  saved.ID,
		Conclusion: saved.Conclusion,
		Revision:   saved.Revision,
		At:         now,
	})
	return updated, saved, nil
}

// Retract withdraws a published claim. A rationale is mandatory.
func (m *Machine) Retract(ctx context.Context, claimID string, expectedVersion int64, rationale, actor string) (*models.Claim, error) {
	return m.Transition(ctx, claimID, expectedVersion, models.StatusRetracted, TransitionInput{Rationale: rationale, Actor: actor})
}

func (m *Machine) load(ctx context.Context, claimID string, expectedVersion int64) (*models.Claim, error) {
	claim, err := m.repo.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Version != expectedVersion {
		return nil, fmt.Errorf("claim %s is at version %d, not %d: %w", claimID, claim.Version, expectedVersion, faults.ErrConflict)
	}
	return claim, nil
}

func (m *Machine) check(ctx context.Context, claim *models.Claim, to models.ClaimStatus, in TransitionInput) error {
	if _, ok := models.ParseClaimStatus(string(to)); !ok {
		return faults.Invalid("status", "unknown status "+string(to))
	}
	if !CanTransition(claim.Status, to) {
		reason := ""
		if claim.Status.Terminal() {
			reason = "status is terminal"
		}
		return &faults.TransitionError{From: string(claim.Status), To: string(to), Reason: reason}
	}

	switch to {
	case models.StatusVerified:
		if in.Risk == "" {
			return faults.Invalid("risk_level", "required to verify a claim")
		}
		if _, ok := models.ParseRiskLevel(string(in.Risk)); !ok {
			return faults.Invalid("risk_level", "unknown risk level "+string(in.Risk))
		}
	case models.StatusPublished:
		if _, err := m.repo.ActiveVerdict(ctx, claim.ID); err != nil {
			if errors.Is(err, faults.ErrNotFound) {
				return &faults.TransitionError{From: string(claim.Status), To: string(to), Reason: "no verdict has been recorded"}
			}
			return err
		}
	case models.StatusRetracted:
		if strings.TrimSpace(in.Rationale) == "" {
			return faults.Invalid("rationale", "required to retract a claim")
		}
	}

	if in.Risk != "" && to != models.StatusVerified {
		return faults.Invalid("risk_level", "only assigned when entering verified")
	}
	return nil
}

func riskFor(to models.ClaimStatus, risk models.RiskLevel) models.RiskLevel {
	if to != models.StatusVerified {
		return ""
	}
	r, _ := models.ParseRiskLevel(string(risk))
	return r
}

func note(in TransitionInput) string {
	rationale := strings.TrimSpace(in.Rationale)
	actor := strings.TrimSpace(in.Actor)
	switch {
	case actor == "":
		return rationale
	case rationale == "":
		return "by " + actor
	default:
		return rationale + " (by " + actor + ")"
	}
}

func (m *Machine) applied(from, to models.ClaimStatus, claimID string) {
	metrics.ClaimTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.log.Info("claim transition",
		slog.String("claim_id", claimID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (m *Machine) reject(err error) error {
	reason := "error"
	switch {
	case errors.Is(err, faults.ErrConflict):
		reason = "conflict"
	case errors.Is(err, faults.ErrInvalidTransition):
		reason = "invalid_transition"
	case errors.Is(err, faults.ErrValidation):
		reason = "validation"
	case errors.Is(err, faults.ErrNotFound):
		reason = "not_found"
	}
	metrics.ClaimTransitionRejections.WithLabelValues(reason).Inc()
	return err
}

func (m *Machine) notify(ctx context.Context, ev Event) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.log.Warn("verdict event not delivered",
			slog.String("claim_id", ev.ClaimID),
			slog.String("type", string(ev.Type)),
			slog.Any("err", err),
		)
	}
}
