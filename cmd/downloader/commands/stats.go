package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/progitto/TelegramMediaDownload/internal/config"
	"github.com/progitto/TelegramMediaDownload/internal/stats"
	"github.com/progitto/TelegramMediaDownload/internal/statsdb"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var statsFile, historyDB string
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print download counters and recent transfers without connecting to Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if statsFile == "" || historyDB == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				if statsFile == "" {
					statsFile = cfg.StatsFile
				}
				if historyDB == "" {
					historyDB = cfg.HistoryDB
				}
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			rec := stats.Load(statsFile, logger).Snapshot()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Counters (%s)\n", statsFile)
			fmt.Fprintf(out, "  attempts:     %d\n", rec.Downloads)
			fmt.Fprintf(out, "  succeeded:    %d\n", rec.Success)
			fmt.Fprintf(out, "  failed:       %d\n", rec.Failed)
			fmt.Fprintf(out, "  no outcome:   %d\n", rec.Pending())
			fmt.Fprintf(out, "  success rate: %.1f%%\n", rec.SuccessRate())
			fmt.Fprintf(out, "  total size:   %s\n", humanize.IBytes(rec.TotalBytes))

			if _, err := os.Stat(historyDB); err != nil {
				fmt.Fprintf(out, "\nNo transfer history at %s\n", historyDB)
				return nil
			}
			store, err := statsdb.Open(historyDB, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			counts, err := store.CountByOutcome(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nJournal (%s)\n", historyDB)
			if started, err := store.GetDaemonStartTime(); err == nil {
				fmt.Fprintf(out, "  last start:   %s (%s)\n",
					started.Local().Format(time.DateTime), humanize.Time(started))
			}
			for _, o := range []statsdb.Outcome{statsdb.OutcomeSucceeded, statsdb.OutcomeFailed, statsdb.OutcomeInterrupted, statsdb.OutcomeStarted} {
				fmt.Fprintf(out, "  %-12s %d\n", o+":", counts[o])
			}

			recent, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(recent) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tOUTCOME\tSIZE\tFILE\tSENDER")
			for _, t := range recent {
				name := t.FileName
				if t.Path != "" {
					name = filepath.Base(t.Path)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					t.StartedAt.Local().Format(time.DateTime), t.Outcome,
					humanize.IBytes(uint64(max(t.Bytes, 0))), name, t.Sender)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&statsFile, "stats-file", "", "counters file (default from config)")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "transfer journal (default from config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent transfers to list")
	return cmd
}
