package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	gpa := func(v float64) *float64 { return &v }
	grade := func(v int) *int { return &v }
	bad := scholarship.EnrollmentStatus("graduated")
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)

	base := scholarship.Record{Link: "https://example.com/a"}
	require.NoError(t, Validate(base))

	tests := []struct {
		name   string
		mutate func(r *scholarship.Record)
	}{
		{"missing link", func(r *scholarship.Record) { r.Link = "" }},
		{"gpa above scale", func(r *scholarship.Record) { r.MinGPA = gpa(4.6) }},
		{"negative gpa", func(r *scholarship.Record) { r.MinGPA = gpa(-1) }},
		{"grade zero", func(r *scholarship.Record) { r.Grade = grade(0) }},
		{"unknown status", func(r *scholarship.Record) { r.Status = &bad }},
		{"inverted window", func(r *scholarship.Record) { r.StartDate, r.EndDate = &start, &end }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := base
			tt.mutate(&r)
			require.Error(t, Validate(r))
		})
	}
}
