package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

func newTransitionCmd(a *app) *cobra.Command {
	var (
		to, risk, rationale, actor string
		expected                   int64
	)
	cmd := &cobra.Command{
		Use:   "transition <claim-id>",
		Short: "Move a claim to another review status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := models.ParseClaimStatus(to)
			if !ok {
				return faults.Invalid("to", "unknown claim status "+to)
			}
			var level models.RiskLevel
			if risk != "" {
				if level, ok = models.ParseRiskLevel(risk); !ok {
					return faults.Invalid("risk", "unknown risk level "+risk)
				}
			}

			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			claim, err := p.Machine().Transition(cmd.Context(), args[0], expected, status, workflow.TransitionInput{
				Risk:      level,
				Rationale: rationale,
				Actor:     actor,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, claim)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Target status")
	cmd.Flags().Int64Var(&expected, "version", 0, "Claim version the change is based on")
	cmd.Flags().StringVar(&risk, "risk", "", "Risk level, required when verifying")
	cmd.Flags().StringVar(&rationale, "rationale", "", "Reason recorded in the status history")
	cmd.Flags().StringVar(&actor, "actor", "", "Who made the change")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newVerdictCmd(a *app) *cobra.Command {
	var (
		conclusion, rationale, reviewer string
		expected                        int64
	)
	cmd := &cobra.Command{
		Use:   "verdict <claim-id>",
		Short: "Publish a verdict for a verified claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ok := models.ParseConclusion(conclusion)
			if !ok {
				return faults.Invalid("conclusion", "unknown conclusion "+conclusion)
			}
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			claim, verdict, err := p.Machine().PublishVerdict(cmd.Context(), args[0], expected, workflow.VerdictInput{
				Conclusion: c,
				Rationale:  rationale,
				Reviewer:   reviewer,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"claim": claim, "verdict": verdict})
		},
	}
	cmd.Flags().StringVar(&conclusion, "conclusion", "", "One of true, false, misleading, unsubstantiated, satire")
	cmd.Flags().Int64Var(&expected, "version", 0, "Claim version the verdict is based on")
	cmd.Flags().StringVar(&rationale, "rationale", "", "Verdict rationale")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer name")
	_ = cmd.MarkFlagRequired("conclusion")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newRetractCmd(a *app) *cobra.Command {
	var (
		rationale, actor string
		expected         int64
	)
	cmd := &cobra.Command{
		Use:   "retract <claim-id>",
		Short: "Retract a published verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			claim, err := p.Machine().Retract(cmd.Context(), args[0], expected, rationale, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, claim)
		},
	}
	cmd.Flags().Int64Var(&expected, "version", 0, "Claim version the retraction is based on")
	cmd.Flags().StringVar(&rationale, "rationale", "", "Reason for the retraction")
	cmd.Flags().StringVar(&actor, "actor", "", "Who retracted")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newRescoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore <actor-id>",
		Short: "Recompute the risk profile of an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			profile, err := p.Scorer().Recompute(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("rescore %s: %w", args[0], err)
			}
			return printJSON(cmd, profile)
		},
	}
}

func newRetryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-drive documents whose upstream calls were deferred",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return faults.Invalid("limit", "must be at least 1")
			}
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			report, err := p.RetryDeferred(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum documents to retry")
	return cmd
}

func newEnsureIndicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-indices",
		Short: "Create the Elasticsearch indices when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.ensureIndices(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("indices ready")
			return nil
		},
	}
}
