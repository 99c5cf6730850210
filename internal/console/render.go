package console

import (
	"chat-autopilot/internal/entity"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Render writes summary as indented JSON or as a short human-readable report.
func Render(w io.Writer, summary *entity.RunSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(summary)
	}

	fmt.Fprintf(w, "Run %s (%s)\n", summary.RunID, summary.StartedAt.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range summary.Outcomes {
		detail := o.Evidence
		if o.ErrorKind != "" && o.Status != entity.OutcomeSucceeded {
			detail = o.ErrorKind + ": " + detail
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", o.Action, o.Status, o.Duration.Round(time.Millisecond), oneLine(detail))
		if len(o.Tried) > 0 {
			fmt.Fprintf(tw, "  \t\t\ttried: %s\n", strings.Join(o.Tried, ", "))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, name := range summary.Skipped {
		fmt.Fprintf(w, "  %s  skipped\n", name)
	}

	for _, a := range summary.Anomalies {
		fmt.Fprintf(w, "Anomaly: %s -> %s at %s", a.From, a.Attempted, a.URL)
		if a.Recheck != "" {
			fmt.Fprintf(w, " (recheck %s, resolved=%t)", a.Recheck, a.Resolved)
		}
		fmt.Fprintln(w)
	}

	if summary.FinalState.Phase != "" {
		fmt.Fprintf(w, "Final state: %s %s\n", summary.FinalState.Phase, summary.FinalState.URL)
	}

	result := "succeeded"
	if !summary.Succeeded {
		result = "failed"
	}
	if summary.Aborted {
		result += " (aborted: " + summary.AbortKind + ")"
	}
	_, err := fmt.Fprintf(w, "Result: %s\n", result)

	return err
}

func oneLine(s string) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) > 160 {
		return string(r[:157]) + "..."
	}

	return string(r)
}
