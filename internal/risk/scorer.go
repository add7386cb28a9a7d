// Package risk computes actor due-diligence profiles from published verdicts.
// A profile is always rebuilt from scratch so repeated runs without new
// verdicts produce the same result.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

// Config is the scoring policy.
type Config struct {
	Weights  map[models.Conclusion]float64
	HalfLife time.Duration
}

// DefaultWeights returns the severity weight of each conclusion.
func DefaultWeights() map[models.Conclusion]float64 {
	return map[models.Conclusion]float64{
		models.ConclusionFalse:           30,
		models.ConclusionMisleading:      18,
		models.ConclusionUnsubstantiated: 8,
		models.ConclusionSatire:          0,
		models.ConclusionTrue:            -10,
	}
}

// DefaultConfig uses DefaultWeights and a 180 day half-life.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), HalfLife: 180 * 24 * time.Hour}
}

// Tier maps a score to its tier.
func Tier(score int) models.RiskLevel {
	switch {
	case score < 25:
		return models.RiskLow
	case score < 50:
		return models.RiskMedium
	case score < 75:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// Repository is the slice of the content store the scorer reads and writes.
type Repository interface {
	store.Actors
	store.Claims
	store.Verdicts
}

// Scorer recomputes actor risk profiles.
type Scorer struct {
	repo Repository
	cfg  Config
	log  *slog.Logger
	now  func() time.Time
}

// New creates a scorer.
func New(repo Repository, cfg Config, log *slog.Logger) *Scorer {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultConfig().HalfLife
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scorer{repo: repo, cfg: cfg, log: log, now: time.Now}
}

// Recompute rebuilds and stores the risk profile of one actor.
func (s *Scorer) Recompute(ctx context.Context, actorID string) (*models.RiskProfile, error) {
	actor, err := s.repo.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	basis, err := s.collect(ctx, actor.ClaimIDs)
	if err != nil {
		return nil, err
	}
	profile := Score(basis, s.cfg)

	if err := s.repo.SaveActorProfile(ctx, actorID, profile, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("save actor profile: %w", err)
	}
	metrics.RiskRecomputations.WithLabelValues(string(profile.Tier)).Inc()
	s.log.Debug("actor rescored",
		slog.String("actor_id", actorID),
		slog.Int("score", profile.Score),
		slog.String("tier", string(profile.Tier)),
		slog.Int("verdicts", len(profile.Basis)),
	)
	return &profile, nil
}

// RecomputeForClaim rescores every actor linked to claimID.
func (s *Scorer) RecomputeForClaim(ctx context.Context, claimID string) (map[string]models.RiskProfile, error) {
	actors, err := s.repo.ActorsByClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("actors by claim: %w", err)
	}

	out := make(map[string]models.RiskProfile, len(actors))
	var errs []error
	for _, a := range actors {
		p, err := s.Recompute(ctx, a.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("actor %s: %w", a.ID, err))
			continue
		}
		out[a.ID] = *p
	}
	return out, errors.Join(errs...)
}

func (s *Scorer) collect(ctx context.Context, claimIDs []string) ([]models.BasisEntry, error) {
	seen := make(map[string]struct{}, len(claimIDs))
	var basis []models.BasisEntry
	for _, id := range claimIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		claim, err := s.repo.GetClaim(ctx, id)
		if errors.Is(err, faults.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get claim %s: %w", id, err)
		}
		if claim.Status != models.StatusPublished {
			continue
		}

		v, err := s.repo.ActiveVerdict(ctx, id)
		if errors.Is(err, faults.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("active verdict %s: %w", id, err)
		}
		basis = append(basis, models.BasisEntry{
			VerdictID:   v.ID,
			ClaimID:     id,
			Conclusion:  v.Conclusion,
			PublishedAt: v.PublishedAt,
			Weight:      s.cfg.Weights[v.Conclusion],
		})
	}
	return basis, nil
}

// Score turns basis entries into a profile. Decay is measured from the newest
// verdict in the basis, so the result depends on nothing but the verdicts.
func Score(basis []models.BasisEntry, cfg Config) models.RiskProfile {
	out := make([]models.BasisEntry, len(basis))
	copy(out, basis)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].VerdictID < out[j].VerdictID
	})

	var sum float64
	if len(out) > 0 {
		newest := out[0].PublishedAt
		for i := range out {
			age := newest.Sub(out[i].PublishedAt)
			decay := math.Pow(0.5, float64(age)/float64(cfg.HalfLife))
			out[i].Contribution = math.Round(out[i].Weight*decay*1000) / 1000
			sum += out[i].Weight * decay
		}
	}

	score := int(math.Round(math.Max(0, math.Min(100, sum))))
	return models.RiskProfile{Score: score, Tier: Tier(score), Basis: out}
}
