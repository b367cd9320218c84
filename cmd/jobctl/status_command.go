package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>...",
		Short: "Show the state and result of one or more jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc jobService) error {
				rows := make([][]string, 0, len(args))
				for _, jobID := range args {
					view, err := svc.Resolve(cmd.Context(), jobID)
					if err != nil {
						return err
					}
					rows = append(rows, statusRow(svc, jobID, view))
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Job", "State", "Result", "Detail"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
}

func statusRow(svc jobService, jobID string, view domain.JobView) []string {
	row := []string{jobID, string(view.State), "", ""}
	switch view.State {
	case domain.StateFailed:
		row[3] = firstLine(view.ErrorDetail)
	case domain.StateFinished:
		normalized, err := svc.Normalize(view.RawResult)
		row[2] = normalized.DisplayPath
		switch {
		case err != nil:
			row[3] = err.Error()
		case normalized.Servable():
			row[3] = normalized.ServableURL
		case normalized.Degraded:
			row[3] = "unparsed result"
		}
	}
	return row
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
