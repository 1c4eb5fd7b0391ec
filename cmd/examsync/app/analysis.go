package app

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) analysisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Show and merge analysis results",
	}
	cmd.AddCommand(c.analysisGetCmd())
	cmd.AddCommand(c.analysisMergeCmd())
	return cmd
}

func (c *cli) analysisGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ANALYSIS_ID",
		Short: "Print an analysis result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := c.authenticatedSession(cmd)
			if err != nil {
				return err
			}
			defer closeSession(session)

			result, err := session.Engine().Analysis(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeDocument(cmd, result.Document, result)
		},
	}
}

func (c *cli) analysisMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge EXAM_ID EXAM_ID...",
		Short: "Merge the analyses of two or more exams into one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := c.authenticatedSession(cmd)
			if err != nil {
				return err
			}
			defer closeSession(session)

			merged, err := session.Engine().Merge(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Merged %d exams into analysis %s\n", len(merged.ExamIDs), merged.ID)
			return writeDocument(cmd, merged.Document, merged)
		},
	}
}

// writeDocument prints the raw server document when there is one
func writeDocument(cmd *cobra.Command, doc json.RawMessage, fallback any) error {
	if len(doc) == 0 {
		return writeJSON(cmd.OutOrStdout(), fallback)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return fmt.Errorf("failed to format analysis: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(cmd.OutOrStdout())
	return err
}
