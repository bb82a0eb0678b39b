package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	recmem "github.com/JakeFAU/scholarship-crawler/internal/records/memory"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

type scriptedModel struct {
	replies []string
	err     error
	prompts []string
}

func (m *scriptedModel) Complete(_ context.Context, _ string, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

type fakeIndex struct {
	hits  []scholarship.SearchHit
	err   error
	gotK  int
	calls int
}

func (f *fakeIndex) Index(context.Context, []scholarship.IndexSource) (int, error) { return 0, nil }

func (f *fakeIndex) Search(_ context.Context, _ string, k int) ([]scholarship.SearchHit, error) {
	f.calls++
	f.gotK = k
	return f.hits, f.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func ptr[T any](v T) *T { return &v }

func hit(title, file string, score float64) scholarship.SearchHit {
	return scholarship.SearchHit{
		Chunk: scholarship.Chunk{
			Text:     title + " excerpt",
			Metadata: scholarship.ChunkMetadata{NoticeTitle: title, FileName: file, URL: "https://board/" + file},
		},
		Score: score,
	}
}

func seedRecords(t *testing.T) *recmem.Store {
	t.Helper()
	store := recmem.New()
	ctx := context.Background()
	_, err := store.Create(ctx, scholarship.Record{
		Title: "merit", Link: "https://board/merit.pdf",
		Fields: scholarship.Fields{
			MinGPA:  ptr(3.0),
			Grade:   ptr(2),
			EndDate: ptr(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)),
		},
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, scholarship.Record{
		Title: "expired", Link: "https://board/old.pdf",
		Fields: scholarship.Fields{
			MinGPA:  ptr(2.0),
			EndDate: ptr(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)),
		},
	})
	require.NoError(t, err)
	return store
}

var today = fixedClock{time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)}

func TestAnswerStructuredMatchSkipsSearch(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{`{"name":"filter_documents","arguments":{"gpa":3.5}}`}}
	index := &fakeIndex{hits: []scholarship.SearchHit{hit("x", "x.pdf", 0.9)}}
	router, err := New(model, seedRecords(t), index, today, Config{}, zap.NewNop())
	require.NoError(t, err)

	payload, err := router.Answer(context.Background(), "GPA 3.5인데 받을 수 있는 장학금?")
	require.NoError(t, err)
	assert.Equal(t, SourceStructured, payload.Source)
	require.Len(t, payload.Records, 1)
	assert.Equal(t, "merit", payload.Records[0].Title)
	require.NotNil(t, payload.Predicate.ActiveOn)
	assert.Equal(t, 0, index.calls)
}

func TestAnswerFallsBackWhenNothingMatches(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{`{"name":"filter_documents","arguments":{"gpa":1.0}}`}}
	index := &fakeIndex{hits: []scholarship.SearchHit{
		hit("A", "a1.pdf", 0.9),
		hit("B", "b.pdf", 0.8),
		hit("A", "a2.pdf", 0.7),
		hit("C", "c.pdf", 0.6),
	}}
	router, err := New(model, seedRecords(t), index, today, Config{TopK: 4}, nil)
	require.NoError(t, err)

	payload, err := router.Answer(context.Background(), "low gpa scholarships")
	require.NoError(t, err)
	assert.Equal(t, SourceSemantic, payload.Source)
	assert.Equal(t, 4, index.gotK)
	assert.Equal(t, []Result{
		{Title: "A", FileName: "a1.pdf", URL: "https://board/a1.pdf", Score: 0.9},
		{Title: "B", FileName: "b.pdf", URL: "https://board/b.pdf", Score: 0.8},
		{Title: "C", FileName: "c.pdf", URL: "https://board/c.pdf", Score: 0.6},
	}, payload.Results)
	assert.Empty(t, payload.Summary)
}

func TestAnswerFallsBackOnModelFailure(t *testing.T) {
	t.Parallel()

	for name, model := range map[string]*scriptedModel{
		"error":     {err: errors.New("rate limited")},
		"none":      {replies: []string{`{"name":"none"}`}},
		"garbage":   {replies: []string{"I think you should apply"}},
		"empty":     {replies: []string{`{"name":"filter_documents","arguments":{}}`}},
		"bad_value": {replies: []string{`{"name":"filter_documents","arguments":{"gpa":9.9}}`}},
		"nan_gpa":   {replies: []string{`{"name":"filter_documents","arguments":{"gpa":"NaN"}}`}},
	} {
		t.Run(name, func(t *testing.T) {
			index := &fakeIndex{hits: []scholarship.SearchHit{hit("A", "a.pdf", 0.5)}}
			router, err := New(model, seedRecords(t), index, today, Config{}, nil)
			require.NoError(t, err)

			payload, err := router.Answer(context.Background(), "what is open?")
			require.NoError(t, err)
			assert.Equal(t, SourceSemantic, payload.Source)
			assert.Equal(t, 1, index.calls)
			assert.Equal(t, DefaultTopK, index.gotK)
		})
	}
}

func TestAnswerComposesSummary(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{`{"name":"none"}`, "Apply to A by March."}}
	index := &fakeIndex{hits: []scholarship.SearchHit{hit("A", "a.pdf", 0.5)}}
	router, err := New(model, recmem.New(), index, today, Config{ComposeAnswer: true}, nil)
	require.NoError(t, err)

	payload, err := router.Answer(context.Background(), "deadline?")
	require.NoError(t, err)
	assert.Equal(t, "Apply to A by March.", payload.Summary)
	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[1], "A excerpt")
}

func TestAnswerSearchErrorSurfaces(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{`{"name":"none"}`}}
	index := &fakeIndex{err: errors.New("index unreadable")}
	router, err := New(model, recmem.New(), index, today, Config{}, nil)
	require.NoError(t, err)

	_, err = router.Answer(context.Background(), "anything")
	require.ErrorContains(t, err, "vector search")

	_, err = router.Answer(context.Background(), "   ")
	require.Error(t, err)
}

func TestParseFunctionCall(t *testing.T) {
	t.Parallel()

	pred, ok, err := ParseFunctionCall("```json\n" +
		`{"name":"filter_documents","arguments":{"min_gpa":"3.2","grade":"3학년","status":"휴학"}}` + "\n```")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.2, *pred.GPA, 1e-9)
	assert.Equal(t, 3, *pred.Grade)
	assert.Equal(t, scholarship.StatusLeaveOfAbsence, *pred.Status)

	pred, ok, err = ParseFunctionCall(`{"name":"filter_documents","arguments":{"grade":2.5,"status":"alumni","gpa":4}}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, pred.Grade)
	assert.Nil(t, pred.Status)
	assert.InDelta(t, 4.0, *pred.GPA, 1e-9)

	_, _, err = ParseFunctionCall(`{"name":"delete_all"}`)
	require.ErrorIs(t, err, ErrMalformedCall)

	_, _, err = ParseFunctionCall(`{"name":`)
	require.ErrorIs(t, err, ErrMalformedCall)
}
