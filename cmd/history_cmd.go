package cmd

import (
	"io"
	"strconv"
	"time"

	"github.com/kebairia/smb-snapshots/internal/config"
	"github.com/kebairia/smb-snapshots/internal/operations"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// HistoryLimit caps how many run records history prints.
var HistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), cfg.Journal.Directory, HistoryLimit)
	},
}

func printHistory(w io.Writer, dir string, limit int) error {
	paths, err := operations.ListRecords(dir)
	if err != nil {
		return err
	}
	paths = lo.Reverse(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Snapshot", "Started", "Duration", "Result", "Created", "Skipped", "Failed"})
	for _, path := range paths {
		var out operations.Outcome
		if err := out.Load(path); err != nil {
			table.Append([]string{path, "", "", "unreadable", "", "", ""})
			continue
		}
		counts := out.Counts()
		table.Append([]string{
			out.ID,
			out.StartedAt.Local().Format(time.DateTime),
			out.Duration.Round(time.Millisecond).String(),
			result(out),
			strconv.Itoa(counts[operations.StatusCreated]),
			strconv.Itoa(counts[operations.StatusSkipped]),
			strconv.Itoa(counts[operations.StatusFailed]),
		})
	}
	table.Render()
	return nil
}

func result(out operations.Outcome) string {
	switch {
	case out.PreExecFailed:
		return "pre-exec failed"
	case out.PostExecFailed:
		return "post-exec failed"
	case out.Success:
		return "ok"
	default:
		return "errors"
	}
}

func init() {
	historyCmd.Flags().IntVarP(&HistoryLimit, "limit", "n", 20, "number of runs to show (0 for all)")
}
