package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"gemini-relay/internal/audit"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the request outcome ledger",
	}
	cmd.AddCommand(newAuditRecentCmd())
	return cmd
}

func newAuditRecentCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent request outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return errors.New("audit ledger path required: pass --db")
			}

			store, err := audit.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no outcomes recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOutcomes(entries))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&dbPath, "db", "", "audit ledger path")
	fs.IntVarP(&limit, "limit", "n", 20, "number of rows to show")
	return cmd
}

func renderOutcomes(entries []audit.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			e.RequestID,
			e.Model,
			e.Shape,
			e.Kind,
			strconv.Itoa(e.Status),
			strconv.FormatInt(e.Latency.Milliseconds(), 10) + "ms",
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "REQUEST ID", "MODEL", "SHAPE", "KIND", "STATUS", "LATENCY").
		Rows(rows...).
		String()
}
