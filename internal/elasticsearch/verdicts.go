package elasticsearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

// Verdict revisions are stored under <claim id>-r<revision>. Walking revisions
// with realtime gets avoids depending on search refresh for the audit trail.
func verdictID(claimID string, revision int) string {
	return fmt.Sprintf("%s-r%d", claimID, revision)
}

const maxVerdictAttempts = 5

// SaveVerdict creates the next revision for the claim and deactivates the
// previous one. The verdict id is always assigned by the store.
func (c *Client) SaveVerdict(ctx context.Context, v models.Verdict) (*models.Verdict, error) {
	if err := models.ValidateVerdict(v); err != nil {
		return nil, err
	}
	if _, err := c.GetClaim(ctx, v.ClaimID); err != nil {
		return nil, err
	}
	if v.PublishedAt.IsZero() {
		v.PublishedAt = time.Now().UTC()
	}

	for attempt := 0; attempt < maxVerdictAttempts; attempt++ {
		history, err := c.ListVerdicts(ctx, v.ClaimID)
		if err != nil {
			return nil, err
		}

		v.Revision = len(history) + 1
		v.ID = verdictID(v.ClaimID, v.Revision)
		v.Supersedes = ""
		v.Active = true
		v.SupersededAt = nil
		if n := len(history); n > 0 {
			v.Supersedes = history[n-1].ID
		}

		created, err := c.create(ctx, c.verdictsIndex(), v.ID, v)
		if err != nil {
			return nil, err
		}
		if !created {
			// Another publisher took this revision; read again.
			continue
		}

		if v.Supersedes != "" {
			at := v.PublishedAt
			if err := c.patch(ctx, c.verdictsIndex(), v.Supersedes, map[string]any{"active": false, "superseded_at": at}); err != nil {
				return nil, fmt.Errorf("deactivate verdict %s: %w", v.Supersedes, err)
			}
		}
		out := v
		return &out, nil
	}
	return nil, fmt.Errorf("verdict for claim %s: %w", v.ClaimID, faults.ErrConflict)
}

// CommitVerdict advances the claim with a sequence-number conditional write
// and saves the verdict only after that write succeeded, so a stale publisher
// never creates a revision.
func (c *Client) CommitVerdict(ctx context.Context, expectedVersion int64, v models.Verdict, upd store.ClaimUpdate) (*models.Claim, *models.Verdict, error) {
	if err := models.ValidateVerdict(v); err != nil {
		return nil, nil, err
	}
	claim, err := c.UpdateClaimStatus(ctx, v.ClaimID, expectedVersion, upd)
	if err != nil {
		return nil, nil, err
	}
	saved, err := c.SaveVerdict(ctx, v)
	if err != nil {
		return claim, nil, fmt.Errorf("claim %s advanced to version %d but verdict not saved: %w", v.ClaimID, claim.Version, err)
	}
	return claim, saved, nil
}

// ActiveVerdict returns the latest revision, which is the active one.
func (c *Client) ActiveVerdict(ctx context.Context, claimID string) (*models.Verdict, error) {
	history, err := c.ListVerdicts(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("active verdict for claim %s: %w", claimID, faults.ErrNotFound)
	}
	v := history[len(history)-1]
	return &v, nil
}

// ListVerdicts returns every revision, oldest first.
func (c *Client) ListVerdicts(ctx context.Context, claimID string) ([]models.Verdict, error) {
	var out []models.Verdict
	for revision := 1; ; revision++ {
		var v models.Verdict
		_, err := c.get(ctx, c.verdictsIndex(), verdictID(claimID, revision), &v)
		if errors.Is(err, faults.ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}
