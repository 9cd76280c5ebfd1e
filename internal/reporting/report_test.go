package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

var reportTime = time.Date(2020, 5, 10, 14, 12, 55, 0, time.UTC)

func TestReport_String(t *testing.T) {
	t.Run("active request", func(t *testing.T) {
		report := Report{Read: 49, Delivered: 63, Total: 80, CohortSize: 81, Active: true, Time: reportTime}

		assert.Equal(t, "Cohort size: 81\n"+
			"78.75 % of messages were delivered.\n"+
			"61.25 % of messages were read.\n"+
			"\n"+
			"This report was last updated on May 10, 2020, 16:12 (CEST).", report.String())
	})

	t.Run("cancelled request", func(t *testing.T) {
		report := Report{Read: 49, Delivered: 63, Total: 80, CohortSize: 81, Active: false, Time: reportTime}

		assert.Equal(t, "Cohort size: 81\n"+
			"Communication cancelled! All delivered/read messages were deleted.\n"+
			"\n"+
			"This report was last updated on May 10, 2020, 16:12 (CEST).", report.String())
	})

	t.Run("zeros", func(t *testing.T) {
		report := Report{CohortSize: 50, Active: true, Time: reportTime}

		assert.Equal(t, "Cohort size: 50\n"+
			"0.00 % of messages were delivered.\n"+
			"0.00 % of messages were read.\n"+
			"\n"+
			"This report was last updated on May 10, 2020, 16:12 (CEST).", report.String())
	})

	t.Run("winter time", func(t *testing.T) {
		report := Report{Active: false, Time: time.Date(2021, 1, 3, 8, 5, 0, 0, time.UTC)}
		assert.Contains(t, report.String(), "January 3, 2021, 09:05 (CET).")
	})
}

func TestPercent(t *testing.T) {
	tests := []struct {
		part, total int
		want        string
	}{
		{0, 0, "0.00"},
		{0, 10, "0.00"},
		{5, 0, "0.00"},
		{63, 80, "78.75"},
		{49, 80, "61.25"},
		{1, 3, "33.33"},
		{2, 3, "66.67"},
		{10, 10, "100.00"},
		{1, 32, "3.13"},
		{1, 800, "0.13"},
		{3, 32, "9.38"},
		{1, 7, "14.29"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percent(tt.part, tt.total), "%d/%d", tt.part, tt.total)
	}
}

func TestNewReport(t *testing.T) {
	now := time.Now()
	req := &domain.Request{ID: "PROJ-1", Active: true, Cohort: domain.Cohort{Citizens: []string{"a", "b", "c", "d"}}}
	msgs := []*domain.Message{
		domain.NewMessage("PROJ-1", "a", domain.Content{}, now),
		domain.NewMessage("PROJ-1", "b", domain.Content{}, now).WithState(domain.MessageStateDelivered, now),
		domain.NewMessage("PROJ-1", "c", domain.Content{}, now).WithState(domain.MessageStateRead, now),
	}

	report := NewReport(req, msgs, now)
	assert.Equal(t, Report{Delivered: 2, Read: 1, Total: 3, CohortSize: 4, Active: true, Time: now}, report)
}
