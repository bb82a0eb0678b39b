package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scholarship-crawler/internal/retrieval"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Answers a question over the collected scholarship documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			payload, err := appInstance.Answer(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printAnswer(cmd, payload)
			return nil
		},
	}
}

func printAnswer(cmd *cobra.Command, p retrieval.AnswerPayload) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerColor("source: "+p.Source))
	switch p.Source {
	case retrieval.SourceStructured:
		for _, r := range p.Records {
			fmt.Fprintf(out, "  - %s %s\n", r.Title, subtleColor(r.Link))
		}
	default:
		if len(p.Results) == 0 {
			fmt.Fprintln(out, warnColor("  no matching documents"))
		}
		for _, r := range p.Results {
			fmt.Fprintf(out, "  - %s (%s) %.3f %s\n", r.Title, r.FileName, r.Score, subtleColor(r.URL))
		}
	}
	if p.Summary != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, p.Summary)
	}
}
