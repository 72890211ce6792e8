// Package report renders scan results for terminals.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const rule = "================================================================================"

// Printer writes scan reports as plain text.
type Printer struct {
	w   io.Writer
	num *message.Printer
}

// NewPrinter creates a Printer writing to w. Numbers use English digit
// grouping.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, num: message.NewPrinter(language.English)}
}

// Profile writes the thresholds a scan runs with.
func (p *Printer) Profile(profile arbitrage.ScanProfile) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile: %s\n", profile.Name)
	fmt.Fprintf(&b, "   Min annual rate: %.2f%% (%.6f per period)\n",
		profile.MinAnnualRate, profile.MinAnnualRate/arbitrage.FundingPeriodsPerYear/100)
	fmt.Fprintf(&b, "   Max risk score:  %.1f/10\n", profile.MaxRiskScore)
	b.WriteString(p.num.Sprintf("   Min volume:      $%.0f\n", profile.MinVolume))
	fmt.Fprintf(&b, "   Max spread:      %.1f bps\n", profile.MaxSpreadBps)
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Report writes the opportunities of one cycle, ranked as the scanner
// returned them.
func (p *Printer) Report(r domain.ScanReport) error {
	var b strings.Builder
	if len(r.Opportunities) == 0 {
		fmt.Fprintf(&b, "\nNo opportunities at current thresholds (%d evaluated, %d skipped, %s)\n",
			r.Evaluated, r.Skipped, r.Duration.Round(time.Millisecond))
		_, err := io.WriteString(p.w, b.String())
		return err
	}

	fmt.Fprintf(&b, "\nFOUND %d OPPORTUNITIES (cycle %s, %d evaluated, %d skipped, %s)\n%s\n",
		len(r.Opportunities), r.CycleID, r.Evaluated, r.Skipped, r.Duration.Round(time.Millisecond), rule)
	for i, o := range r.Opportunities {
		p.writeOpportunity(&b, i+1, o)
	}
	b.WriteString(rule + "\n")
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *Printer) writeOpportunity(b *strings.Builder, rank int, o domain.Opportunity) {
	s := o.Snapshot
	fmt.Fprintf(b, "\n%d. [%s] %s - %s\n", rank, o.Confidence, o.InstrumentID, o.Direction)
	fmt.Fprintf(b, "   Profit potential: %+.2f%% annually\n", o.AnnualizedRate)
	fmt.Fprintf(b, "   Funding rate:     %.6f (%+.2f%% annual)\n", o.FundingRate, o.AnnualizedRate)
	b.WriteString(p.num.Sprintf("   Spot: $%.2f | Futures: $%.2f\n", s.SpotPrice, s.FuturesPrice))
	fmt.Fprintf(b, "   Basis: %+.1f bps | Spread: %.1f bps\n", o.BasisBps, s.BidAskSpreadBps)
	fmt.Fprintf(b, "   Action:           %s\n", o.Direction.Action())
	fmt.Fprintf(b, "   Risk score:       %.1f/10 | Confidence: %s\n", o.Risk.Score, o.Confidence)
	b.WriteString(p.num.Sprintf("   Min capital:      $%.0f\n", o.MinCapitalRequired.InexactFloat64()))
	fmt.Fprintf(b, "   Next funding:     %.1fh\n", o.TimeToNextFunding.Hours())
	b.WriteString(p.num.Sprintf("   24h volume:       $%.0f\n", s.Volume24h))
}
