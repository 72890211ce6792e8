// Package notify delivers scan alerts to chat channels. Alerts are filtered by
// event type so operators receive only the ones they subscribed to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Event types accepted by the notify.events config list.
const (
	EventOpportunityHigh = "opportunity_high"
	EventScanFailed      = "scan_failed"
)

// maxListed caps how many opportunities one alert lists.
const maxListed = 10

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every Sender. Notify drops events missing from
// the configured set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Opportunities alerts on the opportunities of one cycle. Callers pass the
// ones that met their confidence threshold.
func (n *Notifier) Opportunities(ctx context.Context, report domain.ScanReport, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	title := fmt.Sprintf("%d funding opportunit%s (%s)", len(opps), plural(len(opps), "y", "ies"), report.Profile)
	return n.Notify(ctx, EventOpportunityHigh, title, FormatOpportunities(opps))
}

// ScanFailed alerts that a cycle could not complete.
func (n *Notifier) ScanFailed(ctx context.Context, cycleErr error) error {
	return n.Notify(ctx, EventScanFailed, "Funding scan failed", cycleErr.Error())
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// FormatOpportunities renders one line per opportunity, best first.
func FormatOpportunities(opps []domain.Opportunity) string {
	var b strings.Builder
	for i, o := range opps {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(opps)-maxListed)
			break
		}
		fmt.Fprintf(&b, "%s %+.2f%%/yr, risk %.1f, %s, min $%s, funding in %s\n",
			o.InstrumentID,
			o.AnnualizedRate,
			o.Risk.Score,
			o.Direction.Action(),
			o.MinCapitalRequired.StringFixed(2),
			o.TimeToNextFunding.Round(time.Minute),
		)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
