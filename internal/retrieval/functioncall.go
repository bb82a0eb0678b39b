package retrieval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// FilterFunction is the only function the model may call.
const FilterFunction = "filter_documents"

// ErrMalformedCall is returned when the reply is not a single JSON function call.
var ErrMalformedCall = errors.New("malformed function call")

const functionCallPrompt = `You route questions about scholarship eligibility.
One function is available:

filter_documents(gpa: number 0-4.5, grade: integer 1-4, status: "enrolled" | "leave_of_absence")
  Finds scholarships open to a student with the given GPA, school year and enrollment status.
  Pass only the arguments the question states.

Reply with exactly one JSON object and nothing else:
{"name": "filter_documents", "arguments": {"gpa": 3.5, "grade": 2, "status": "enrolled"}}
or, when the question states none of these conditions:
{"name": "none"}`

type functionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseFunctionCall decodes the model's reply. It reports false when the model
// declined to call the function or supplied no usable argument. Individual
// arguments that are out of range or of the wrong type are ignored.
func ParseFunctionCall(reply string) (scholarship.Predicate, bool, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return scholarship.Predicate{}, false, ErrMalformedCall
	}
	var call functionCall
	if err := json.Unmarshal([]byte(reply[start:end+1]), &call); err != nil {
		return scholarship.Predicate{}, false, fmt.Errorf("%w: %w", ErrMalformedCall, err)
	}
	switch strings.TrimSpace(call.Name) {
	case "", "none":
		return scholarship.Predicate{}, false, nil
	case FilterFunction:
	default:
		return scholarship.Predicate{}, false, fmt.Errorf("%w: unknown function %q", ErrMalformedCall, call.Name)
	}

	var pred scholarship.Predicate
	if v, ok := number(firstArg(call.Arguments, "gpa", "min_gpa")); ok && scholarship.ValidGPA(v) {
		pred.GPA = &v
	}
	if v, ok := number(firstArg(call.Arguments, "grade")); ok && v == float64(int(v)) {
		g := int(v)
		if g >= scholarship.MinGrade && g <= scholarship.MaxGrade {
			pred.Grade = &g
		}
	}
	if raw, ok := firstArg(call.Arguments, "status").(string); ok {
		if s, ok := scholarship.ParseEnrollmentStatus(raw); ok {
			pred.Status = &s
		}
	}
	if pred.IsEmpty() {
		return scholarship.Predicate{}, false, nil
	}
	return pred, true, nil
}

func firstArg(args map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := args[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// number accepts JSON numbers and numeric strings such as "3.5" or "2학년".
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "학년"))
		return scholarship.ParseDecimal(s)
	default:
		return 0, false
	}
}
