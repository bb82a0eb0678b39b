package scholarship

import (
	"strconv"
	"strings"
	"time"
)

// NoticeLink is one eligible row of a listing page.
type NoticeLink struct {
	Title string
	URL   string
}

// AttachmentLink is one supported attachment on a notice detail page.
type AttachmentLink struct {
	FileName string
	URL      string
}

// Notice is a scholarship announcement seen during one crawl batch.
type Notice struct {
	ID          int           `json:"id"`
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Attachments []*Attachment `json:"attachments"`
}

// Attachment is a file linked from a notice. It belongs to its notice for the batch.
type Attachment struct {
	ID         int      `json:"id"`
	NoticeID   int      `json:"notice_id"`
	FileName   string   `json:"file_name"`
	URL        string   `json:"url"`
	Hash       string   `json:"hash"`
	HTML       string   `json:"content_html"`
	Text       string   `json:"content_text"`
	AlertRules []string `json:"alert_rules"`
	ArchiveURI string   `json:"archive_uri,omitempty"`
	RecordID   int64    `json:"record_id,omitempty"`
}

// EnrollmentStatus is the enrollment state a scholarship requires.
type EnrollmentStatus string

// Known enrollment statuses.
const (
	StatusEnrolled       EnrollmentStatus = "enrolled"
	StatusLeaveOfAbsence EnrollmentStatus = "leave_of_absence"
)

var statusAliases = map[string]EnrollmentStatus{
	"enrolled":         StatusEnrolled,
	"재학":               StatusEnrolled,
	"재학생":              StatusEnrolled,
	"leave_of_absence": StatusLeaveOfAbsence,
	"leave-of-absence": StatusLeaveOfAbsence,
	"leave of absence": StatusLeaveOfAbsence,
	"휴학":               StatusLeaveOfAbsence,
	"휴학생":              StatusLeaveOfAbsence,
}

// ParseEnrollmentStatus maps a raw value, including the Korean board terms, onto the vocabulary.
func ParseEnrollmentStatus(raw string) (EnrollmentStatus, bool) {
	s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// Grade and GPA bounds accepted by the extractor and filters.
const (
	MinGPA   = 0.0
	MaxGPA   = 4.5
	MinGrade = 1
	MaxGrade = 4
)

// ValidGPA reports whether v lies on the supported GPA scale. NaN never does.
func ValidGPA(v float64) bool {
	return v >= MinGPA && v <= MaxGPA
}

// ParseDecimal parses a plain unsigned decimal such as "3" or "3.75".
// Signs, exponents, hex notation, NaN and infinities are rejected.
func ParseDecimal(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Count(s, ".") > 1 || strings.Trim(s, "0123456789.") != "" || s == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// Fields are the eligibility conditions pulled out of an attachment. Each one is nullable.
type Fields struct {
	MinGPA    *float64          `json:"min_gpa"`
	Grade     *int              `json:"grade"`
	Status    *EnrollmentStatus `json:"status"`
	StartDate *time.Time        `json:"start_date"`
	EndDate   *time.Time        `json:"end_date"`
}

// IsZero reports whether no field was extracted.
func (f Fields) IsZero() bool {
	return f.MinGPA == nil && f.Grade == nil && f.Status == nil && f.StartDate == nil && f.EndDate == nil
}

// Record is the persisted eligibility record for one converted attachment.
type Record struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	FileName  string    `json:"file_name"`
	Hash      string    `json:"hash"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Fields
}

// Predicate selects records by applicant attributes. Nil fields are unconstrained.
type Predicate struct {
	// GPA is the applicant's GPA; a record matches when its minimum is at most this.
	GPA    *float64          `json:"gpa,omitempty"`
	Grade  *int              `json:"grade,omitempty"`
	Status *EnrollmentStatus `json:"status,omitempty"`
	// ActiveOn restricts matches to records whose application window contains the day.
	ActiveOn *time.Time `json:"active_on,omitempty"`
}

// IsEmpty reports whether no applicant attribute is set.
func (p Predicate) IsEmpty() bool {
	return p.GPA == nil && p.Grade == nil && p.Status == nil
}

// Matches applies the predicate: every specified field AND the window.
// A specified field only matches a record whose corresponding value is known.
func (p Predicate) Matches(r Record) bool {
	if p.GPA != nil && (r.MinGPA == nil || *r.MinGPA > *p.GPA) {
		return false
	}
	if p.Grade != nil && (r.Grade == nil || *r.Grade != *p.Grade) {
		return false
	}
	if p.Status != nil && (r.Status == nil || *r.Status != *p.Status) {
		return false
	}
	if p.ActiveOn != nil {
		day := DateOf(*p.ActiveOn)
		if r.StartDate != nil && DateOf(*r.StartDate).After(day) {
			return false
		}
		if r.EndDate != nil && DateOf(*r.EndDate).Before(day) {
			return false
		}
	}
	return true
}

// DateOf truncates t to a UTC calendar date using t's own wall clock.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Chunk is one piece of attachment text bound for the vector index.
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	NoticeTitle  string `json:"notice_title"`
	AttachmentID int    `json:"attachment_id"`
	FileName     string `json:"file_name"`
	URL          string `json:"url"`
	Hash         string `json:"hash"`
}

// IndexSource is the full text of one attachment handed to the indexer.
type IndexSource struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// SearchHit is one ranked chunk returned by the vector index.
type SearchHit struct {
	Chunk
	Score float64 `json:"score"`
}

// TaskStatus is the lifecycle state of a background index task.
type TaskStatus string

// Task statuses.
const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// IndexTask tracks one deferred index build.
type IndexTask struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Sources   int        `json:"sources"`
	Attempts  int        `json:"attempts"`
	Chunks    int        `json:"chunks_added"`
	Error     string     `json:"error,omitempty"`
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
}

// IsTerminal reports whether the task will not run again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// IndexJob is a queued unit of index work.
type IndexJob struct {
	TaskID  string
	Attempt int
	Sources []IndexSource
}

// RefreshSummary is what a crawl trigger reports back.
type RefreshSummary struct {
	Status      string `json:"status"`
	Keyword     string `json:"keyword"`
	Notices     int    `json:"notices"`
	Attachments int    `json:"attachments"`
	Records     int    `json:"records"`
	HashesAdded int    `json:"hashes_added"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Reindexed   int    `json:"reindexed"`
	IndexTaskID string `json:"index_task_id,omitempty"`
}

// RecordEvent is published after a record is persisted.
type RecordEvent struct {
	Type       string   `json:"type"`
	RecordID   int64    `json:"record_id"`
	Title      string   `json:"title"`
	Link       string   `json:"link"`
	FileName   string   `json:"file_name"`
	Hash       string   `json:"hash"`
	AlertRules []string `json:"alert_rules"`
}
