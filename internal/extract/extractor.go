// Package extract asks a language model for the eligibility fields of an
// attachment and parses its one-line reply.
package extract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// DefaultInputRunes bounds the attachment text sent to the model.
const DefaultInputRunes = 6000

const systemPrompt = `You extract scholarship eligibility conditions from Korean university notices.
Answer with exactly one line and nothing else, in this form:
min_gpa: <number 0.0-4.5>, start_date: <YYYY-MM-DD>, end_date: <YYYY-MM-DD>, grade: <1-4>, status: <enrolled|leave_of_absence>
Leave a value empty when the notice does not state it. Do not guess.`

const userPrompt = "Notice text:\n%s"

// Extractor implements scholarship.Extractor.
type Extractor struct {
	model      scholarship.Completer
	inputRunes int
	logger     *zap.Logger
}

var _ scholarship.Extractor = (*Extractor)(nil)

// New builds an Extractor. inputRunes <= 0 selects DefaultInputRunes.
func New(model scholarship.Completer, inputRunes int, logger *zap.Logger) (*Extractor, error) {
	if model == nil {
		return nil, errors.New("completer is required")
	}
	if inputRunes <= 0 {
		inputRunes = DefaultInputRunes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{model: model, inputRunes: inputRunes, logger: logger.Named("extract")}, nil
}

// Extract returns the parsed fields. On any error the returned Fields are all
// null and the caller decides whether to persist them.
func (e *Extractor) Extract(ctx context.Context, text string) (scholarship.Fields, error) {
	reply, err := e.model.Complete(ctx, systemPrompt, fmt.Sprintf(userPrompt, truncateRunes(text, e.inputRunes)))
	if err != nil {
		return scholarship.Fields{}, fmt.Errorf("extract fields: %w", err)
	}
	fields, err := Parse(reply)
	if err != nil {
		e.logger.Warn("discarding extraction reply", zap.Error(err), zap.String("reply", truncateRunes(reply, 200)))
		return scholarship.Fields{}, err
	}
	return fields, nil
}

func truncateRunes(s string, n int) string {
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}
