package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tenantcal/internal/calsync"
)

// defaultListSpan is the window `events list` loads when --end is omitted.
const defaultListSpan = 7 * 24 * time.Hour

// timeLayouts are accepted by --start/--end, tried in order. Layouts
// without a zone are read in local time.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimeFlag(name, value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("--%s: cannot parse %q (use RFC 3339, YYYY-MM-DD or YYYY-MM-DDTHH:MM)", name, value)
}

func newEventsCmd(cc *CLIContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List and create calendar events",
	}

	cmd.AddCommand(newEventsListCmd(cc))
	cmd.AddCommand(newEventsCreateCmd(cc))

	return cmd
}

func newEventsListCmd(cc *CLIContext) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load events for a time range",
		Long: `Load the events overlapping [start, end) from the backend into the local
cache and print them. Defaults to the seven days starting today.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rng, err := listRange(start, end, time.Now())
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cc, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.requireSession(); err != nil {
				return err
			}

			events, err := a.syncer.LoadEvents(cmd.Context(), rng)
			if err != nil {
				return fmt.Errorf("loading events: %w", err)
			}

			if cc.Flags.JSON {
				if events == nil {
					events = []calsync.Event{}
				}

				return printJSON(cmd.OutOrStdout(), events)
			}

			printEvents(cmd, events)

			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "range start (default: today 00:00)")
	cmd.Flags().StringVar(&end, "end", "", "range end, exclusive (default: start + 7 days)")

	return cmd
}

// listRange resolves the --start/--end flags of `events list`.
func listRange(start, end string, now time.Time) (calsync.Range, error) {
	var rng calsync.Range

	if start == "" {
		y, m, d := now.Local().Date()
		rng.Start = time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	} else {
		t, err := parseTimeFlag("start", start)
		if err != nil {
			return rng, err
		}

		rng.Start = t
	}

	if end == "" {
		rng.End = rng.Start.Add(defaultListSpan)
	} else {
		t, err := parseTimeFlag("end", end)
		if err != nil {
			return rng, err
		}

		rng.End = t
	}

	if !rng.Valid() {
		return rng, fmt.Errorf("%w: --start must be before --end", calsync.ErrInvalidRange)
	}

	return rng, nil
}

func printEvents(cmd *cobra.Command, events []calsync.Event) {
	w := cmd.OutOrStdout()

	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}

	now := time.Now()
	rows := make([][]string, 0, len(events))

	for _, e := range events {
		title := e.Title
		if e.Pending {
			title += " (pending)"
		}

		rows = append(rows, []string{formatTime(e.Start, now), formatTime(e.End, now), title, e.ID})
	}

	printTable(w, []string{"START", "END", "TITLE", "ID"}, rows)
}

func newEventsCreateCmd(cc *CLIContext) *cobra.Command {
	var (
		title, start, end string
		duration          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			draft, err := createDraft(title, start, end, duration)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cc, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.requireSession(); err != nil {
				return err
			}

			ev, err := a.syncer.CreateEvent(cmd.Context(), draft)
			if err != nil {
				return fmt.Errorf("creating event: %w", err)
			}

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), ev)
			}

			cc.Statusf("Created %q (%s).\n", ev.Title, ev.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "event title")
	cmd.Flags().StringVar(&start, "start", "", "event start")
	cmd.Flags().StringVar(&end, "end", "", "event end")
	cmd.Flags().DurationVar(&duration, "duration", 0, "event length, instead of --end")
	_ = cmd.MarkFlagRequired("start")
	cmd.MarkFlagsMutuallyExclusive("end", "duration")

	return cmd
}

// createDraft resolves the flags of `events create`. Ordering of start and
// end is left to the syncer's validation.
func createDraft(title, start, end string, duration time.Duration) (calsync.Draft, error) {
	s, err := parseTimeFlag("start", start)
	if err != nil {
		return calsync.Draft{}, err
	}

	d := calsync.Draft{Title: title, Start: s}

	switch {
	case end != "":
		e, err := parseTimeFlag("end", end)
		if err != nil {
			return calsync.Draft{}, err
		}

		d.End = e
	case duration != 0:
		d.End = s.Add(duration)
	default:
		return calsync.Draft{}, fmt.Errorf("%w: one of --end or --duration is required", calsync.ErrInvalidEvent)
	}

	return d, nil
}
