// Package records holds what the eligibility record stores share.
package records

import (
	"fmt"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Validate rejects records whose known fields lie outside the accepted ranges.
func Validate(r scholarship.Record) error {
	if r.Link == "" {
		return fmt.Errorf("record link is required")
	}
	if r.MinGPA != nil && !scholarship.ValidGPA(*r.MinGPA) {
		return fmt.Errorf("min_gpa %.2f out of range", *r.MinGPA)
	}
	if r.Grade != nil && (*r.Grade < scholarship.MinGrade || *r.Grade > scholarship.MaxGrade) {
		return fmt.Errorf("grade %d out of range", *r.Grade)
	}
	if r.Status != nil {
		if _, ok := scholarship.ParseEnrollmentStatus(string(*r.Status)); !ok {
			return fmt.Errorf("unknown status %q", *r.Status)
		}
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return fmt.Errorf("end_date before start_date")
	}
	return nil
}
