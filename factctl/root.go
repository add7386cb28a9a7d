package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "factctl",
		Short:         "factctl - operate the claim radar pipeline from the command line",
		Long:          "factctl ingests documents in bulk, drives claims through review and publishes verdicts against the configured store.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(a.out)

	root.AddCommand(
		newVersionCmd(),
		newIngestCmd(a),
		newTransitionCmd(a),
		newVerdictCmd(a),
		newRetractCmd(a),
		newRescoreCmd(a),
		newRetryCmd(a),
		newEnsureIndicesCmd(a),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("factctl %s\n", version)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
