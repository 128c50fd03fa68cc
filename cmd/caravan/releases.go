package main

import (
	"fmt"
	"strconv"
	"time"

	"caravan/internal/release"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	releasesFlags appFlags
	releasesLimit int
)

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List recorded releases",
	Long:  `List the release history of the application, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  runReleases,
}

func init() {
	addAppFlags(releasesCmd, &releasesFlags)
	releasesCmd.Flags().IntVarP(&releasesLimit, "limit", "n", 20, "Number of releases to show (0 for all)")
}

func runReleases(cmd *cobra.Command, args []string) error {
	spec, err := releasesFlags.load()
	if err != nil {
		return err
	}

	hist, err := openHistory(spec)
	if err != nil {
		return err
	}
	defer hist.Close()

	records, err := hist.List(cmd.Context(), spec.Name, releasesLimit)
	if err != nil {
		return err
	}

	printer := newPrinter()
	if len(records) == 0 {
		printer.Infof("No releases recorded for %s", spec.Name)
		return nil
	}

	rows := make([][]string, 0, len(records))
	for i := range records {
		rows = append(rows, releaseRow(&records[i]))
	}
	printer.Table([]string{"RELEASE", "STATUS", "BRANCH", "REVISION", "STARTED", "DURATION", "ERROR"}, rows)
	return nil
}

func releaseRow(rec *release.Record) []string {
	marker := string(rec.Status)
	if rec.Status == release.StatusActive {
		marker += " *"
	}

	duration := "-"
	if d := rec.Duration(); d > 0 {
		duration = d.Round(time.Second).String()
	}

	errText := ""
	if rec.ErrorMessage != nil {
		errText = strconv.Quote(*rec.ErrorMessage)
	}

	return []string{
		rec.ReleaseID,
		marker,
		rec.Branch,
		shortRev(rec.Revision),
		humanize.Time(rec.StartedAt),
		duration,
		errText,
	}
}

// formatCount renders a count with its noun pluralized
func formatCount(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), noun)
}
