package cmd

import (
	"chat-autopilot/internal/bootstrap"
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/diagnose"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	var (
		htmlPath string
		pageURL  string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check every element strategy and the derived phase against a saved page",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := bootstrap.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			html, err := os.ReadFile(htmlPath)
			if err != nil {
				return fmt.Errorf("read page: %w", err)
			}

			if pageURL == "" {
				pageURL = cfg.TargetConfig.URL("/")
			}

			report, err := diagnose.Probe(cmd.Context(), cfg, logger, pageURL, string(html))
			if err != nil {
				return err
			}

			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(report)
			}

			return printReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&htmlPath, "html", "", "saved HTML document to inspect")
	cmd.Flags().StringVar(&pageURL, "url", "", "URL the document was saved from (default TARGET_BASE_URL)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("html")

	return cmd
}

func printReport(w io.Writer, r *diagnose.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "TARGET\tMATCH\tCOUNT\tELEMENT\n")
	for _, t := range r.Targets {
		if !t.Found {
			fmt.Fprintf(tw, "%s\t-\t0\ttried %s\n", t.Target, strings.Join(t.Tried, " | "))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.Target, t.Label, t.Count, t.Element)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	phase := "indeterminate"
	if r.Derived {
		phase = string(r.Phase)
	}
	_, err := fmt.Fprintf(w, "\nPhase at %s: %s\n", r.URL, phase)

	return err
}
