package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// ErrMalformedResponse means the model reply does not follow the line grammar.
// Nothing from such a reply is trusted.
var ErrMalformedResponse = errors.New("malformed extraction response")

// Keys in canonical order. A reply may omit keys but never reorder or repeat them.
var keyOrder = []string{"min_gpa", "start_date", "end_date", "grade", "status"}

var dateLayouts = []string{"2006-01-02", "2006.01.02", "2006/01/02"}

// Parse reads one extraction line. Structural problems fail the whole reply;
// a value that does not parse or is out of range only nulls its own field.
func Parse(reply string) (scholarship.Fields, error) {
	line := strings.TrimSpace(reply)
	if line == "" {
		return scholarship.Fields{}, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}
	if strings.ContainsAny(line, "\r\n") {
		return scholarship.Fields{}, fmt.Errorf("%w: more than one line", ErrMalformedResponse)
	}

	values := make(map[string]string, len(keyOrder))
	last := -1
	for _, segment := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(segment, ":")
		if !ok {
			return scholarship.Fields{}, fmt.Errorf("%w: segment %q has no key", ErrMalformedResponse, strings.TrimSpace(segment))
		}
		key = strings.ToLower(strings.TrimSpace(key))
		pos := indexOf(key)
		switch {
		case pos < 0:
			return scholarship.Fields{}, fmt.Errorf("%w: unknown key %q", ErrMalformedResponse, key)
		case pos == last:
			return scholarship.Fields{}, fmt.Errorf("%w: duplicate key %q", ErrMalformedResponse, key)
		case pos < last:
			return scholarship.Fields{}, fmt.Errorf("%w: key %q out of order", ErrMalformedResponse, key)
		}
		last = pos
		values[key] = strings.TrimSpace(value)
	}

	var f scholarship.Fields
	f.MinGPA = parseGPA(values["min_gpa"])
	f.StartDate = parseDate(values["start_date"])
	f.EndDate = parseDate(values["end_date"])
	f.Grade = parseGrade(values["grade"])
	f.Status = parseStatus(values["status"])
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		f.StartDate, f.EndDate = nil, nil
	}
	return f, nil
}

func indexOf(key string) int {
	for i, k := range keyOrder {
		if k == key {
			return i
		}
	}
	return -1
}

func isBlank(v string) bool {
	switch strings.ToLower(v) {
	case "", "null", "none", "n/a", "-":
		return true
	}
	return false
}

func parseGPA(v string) *float64 {
	if isBlank(v) {
		return nil
	}
	// "3.0/4.5" states the scale; only the number before the slash matters.
	if head, _, ok := strings.Cut(v, "/"); ok {
		v = strings.TrimSpace(head)
	}
	gpa, ok := scholarship.ParseDecimal(v)
	if !ok || !scholarship.ValidGPA(gpa) {
		return nil
	}
	return &gpa
}

func parseGrade(v string) *int {
	if isBlank(v) {
		return nil
	}
	v = strings.TrimSpace(strings.TrimSuffix(v, "학년"))
	grade, err := strconv.Atoi(v)
	if err != nil || grade < scholarship.MinGrade || grade > scholarship.MaxGrade {
		return nil
	}
	return &grade
}

func parseStatus(v string) *scholarship.EnrollmentStatus {
	if isBlank(v) {
		return nil
	}
	s, ok := scholarship.ParseEnrollmentStatus(v)
	if !ok {
		return nil
	}
	return &s
}

func parseDate(v string) *time.Time {
	if isBlank(v) {
		return nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, v); err == nil {
			return &d
		}
	}
	return nil
}
