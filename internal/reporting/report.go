// Package reporting renders request status and cohort information as ticket
// text and keeps the ticket fields current, both on request events and on a
// periodic sweep.
package reporting

import (
	"fmt"
	"strings"
	"time"

	// Embeds the zone database so CET resolves on minimal images.
	_ "time/tzdata"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

// reportTimeLayout renders e.g. "May 10, 2020, 16:12 (CEST)".
const reportTimeLayout = "January 2, 2006, 15:04 (MST)"

var reportZone = loadReportZone()

func loadReportZone() *time.Location {
	loc, err := time.LoadLocation("CET")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}

// Report is the status text pushed to a request's ticket.
type Report struct {
	// Delivered counts messages that reached at least DELIVERED.
	Delivered  int
	Read       int
	Total      int
	CohortSize int
	Active     bool
	Time       time.Time
}

// NewReport counts msgs for req at time now.
func NewReport(req *domain.Request, msgs []*domain.Message, now time.Time) Report {
	counts := domain.CountByState(msgs)
	return Report{
		Delivered:  counts[domain.MessageStateDelivered] + counts[domain.MessageStateRead],
		Read:       counts[domain.MessageStateRead],
		Total:      len(msgs),
		CohortSize: len(req.Cohort.Citizens),
		Active:     req.Active,
		Time:       now,
	}
}

// String renders the report as ticket text.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cohort size: %d\n", r.CohortSize)
	if r.Active {
		fmt.Fprintf(&b, "%s %% of messages were delivered.\n", percent(r.Delivered, r.Total))
		fmt.Fprintf(&b, "%s %% of messages were read.\n", percent(r.Read, r.Total))
	} else {
		b.WriteString("Communication cancelled! All delivered/read messages were deleted.\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "This report was last updated on %s.", r.Time.In(reportZone).Format(reportTimeLayout))
	return b.String()
}

// percent renders part/total as a percentage with two decimals, rounding
// ties up.
func percent(part, total int) string {
	if part == 0 || total == 0 {
		return "0.00"
	}
	p, t := int64(part), int64(total)
	hundredths := (p*20000 + t) / (2 * t)
	return fmt.Sprintf("%d.%02d", hundredths/100, hundredths%100)
}
