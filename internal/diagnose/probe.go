// Package diagnose replays the engine's element strategies and phase
// derivation against a saved HTML document, without a browser.
package diagnose

import (
	"chat-autopilot/internal/browser/snapshot"
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/selector"
	"chat-autopilot/internal/tracker"
	"chat-autopilot/pkg/apperr"
	"context"
	"fmt"
	neturl "net/url"

	"go.uber.org/zap"
)

type TargetReport struct {
	Target   selector.Target `json:"target"`
	Found    bool            `json:"found"`
	Label    string          `json:"label,omitempty"`
	Count    int             `json:"count,omitempty"`
	Element  string          `json:"element,omitempty"`
	Tried    []string        `json:"tried,omitempty"`
	Singular bool            `json:"singular"`
}

type Report struct {
	URL     string         `json:"url"`
	Phase   entity.Phase   `json:"phase,omitempty"`
	Derived bool           `json:"derived"`
	Targets []TargetReport `json:"targets"`
}

// Probe loads html as the page at pageURL and runs one probe per strategy.
func Probe(ctx context.Context, cfg *config.Config, logger *zap.Logger, pageURL, html string) (*Report, error) {
	const op = "Probe"

	if u, err := neturl.Parse(pageURL); err != nil || !u.IsAbs() {
		if err == nil {
			err = fmt.Errorf("%q is not an absolute URL", pageURL)
		}

		return nil, apperr.InvalidReqError(op, "url", err)
	}

	drv := snapshot.New()
	if err := drv.Load(pageURL, html); err != nil {
		return nil, apperr.InvalidReqError(op, "html", err)
	}

	table, err := selector.NewTableFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	gov := governor.New(governor.PolicyFromConfig(cfg), logger)
	resolver := selector.New(gov, logger)

	trackers, err := tracker.NewFactory(tracker.Params{
		Config:   cfg,
		Resolver: resolver,
		Governor: gov,
		Table:    table,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	report := &Report{URL: pageURL}

	for _, target := range table.Targets() {
		s := table.MustStrategy(target)

		res, err := resolver.Probe(ctx, drv, s)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", target, err)
		}

		tr := TargetReport{Target: target, Found: res.Found, Singular: s.Singular, Tried: res.Tried}
		if res.Found {
			tr.Label = res.Label
			tr.Count = len(res.Elements)
			tr.Element = res.Element.Describe()
		}
		report.Targets = append(report.Targets, tr)
	}

	phase, _, ok, err := trackers.New(drv).Derive(ctx)
	if err != nil {
		return nil, fmt.Errorf("derive phase: %w", err)
	}
	report.Phase = phase
	report.Derived = ok

	return report, nil
}
