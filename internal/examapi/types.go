// Package examapi provides the typed client for the exam analysis REST API
// and the error taxonomy the sync engine branches on.
package examapi

import (
	"encoding/json"
	"io"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	"github.com/examsight/examsync/internal/status"
)

// Exam is a single uploaded exam as reported by the backend
type Exam struct {
	ID                  string        `json:"id"`
	Title               string        `json:"title"`
	Subject             string        `json:"subject,omitempty"`
	Grade               string        `json:"grade,omitempty"`
	Unit                string        `json:"unit,omitempty"`
	ExamType            string        `json:"exam_type,omitempty"`
	Status              status.Status `json:"status"`
	DetectedType        string        `json:"detected_type,omitempty"`
	DetectionConfidence *float64      `json:"detection_confidence,omitempty"`
	AnalysisStep        *int          `json:"analysis_step,omitempty"`
	ErrorMessage        string        `json:"error_message,omitempty"`
	CreatedAt           time.Time     `json:"created_at,omitzero"`
	UpdatedAt           time.Time     `json:"updated_at,omitzero"`
}

// StageIndex returns the 0-based progress stage for display
func (e Exam) StageIndex() int {
	return status.StageIndex(e.Status, e.AnalysisStep)
}

// ListMeta carries pagination metadata for a list response
type ListMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// ExamList is one page of exams
type ExamList struct {
	Data []Exam   `json:"data"`
	Meta ListMeta `json:"meta"`
}

// Clone returns a copy whose Data slice can be modified without touching the original
func (l *ExamList) Clone() *ExamList {
	if l == nil {
		return nil
	}
	return &ExamList{
		Data: slices.Clone(l.Data),
		Meta: l.Meta,
	}
}

// Find returns the exam with the given id
func (l *ExamList) Find(id string) (Exam, bool) {
	if l == nil {
		return Exam{}, false
	}
	for _, e := range l.Data {
		if e.ID == id {
			return e, true
		}
	}
	return Exam{}, false
}

// CountStatus returns how many exams on the page have the given status
func (l *ExamList) CountStatus(s status.Status) int {
	if l == nil {
		return 0
	}
	n := 0
	for _, e := range l.Data {
		if e.Status == s {
			n++
		}
	}
	return n
}

// Without returns a copy of the list with the exam removed.
// The second return value is false when the exam is not on the page.
func (l *ExamList) Without(id string) (*ExamList, bool) {
	if l == nil {
		return nil, false
	}
	out := l.Clone()
	idx := slices.IndexFunc(out.Data, func(e Exam) bool { return e.ID == id })
	if idx < 0 {
		return out, false
	}
	out.Data = slices.Delete(out.Data, idx, idx+1)
	if out.Meta.Total > 0 {
		out.Meta.Total--
	}
	return out, true
}

// WithExam returns a copy of the list where fn has been applied to the exam with the given id.
// The second return value is false when the exam is not on the page.
func (l *ExamList) WithExam(id string, fn func(Exam) Exam) (*ExamList, bool) {
	if l == nil {
		return nil, false
	}
	out := l.Clone()
	for i := range out.Data {
		if out.Data[i].ID == id {
			out.Data[i] = fn(out.Data[i])
			return out, true
		}
	}
	return out, false
}

// TypeUpdate is the response of a type correction
type TypeUpdate struct {
	Success  bool   `json:"success"`
	ExamType string `json:"exam_type"`
}

// AnalyzeResponse is the response of an analysis request
type AnalyzeResponse struct {
	AnalysisID       string        `json:"analysis_id"`
	Status           status.Status `json:"status"`
	CacheHit         *bool         `json:"cache_hit,omitempty"`
	CreditsConsumed  *int          `json:"credits_consumed,omitempty"`
	CreditsRemaining *int          `json:"credits_remaining,omitempty"`
}

// Analysis is an immutable analysis result. Composite analyses carry the
// ids of the exams they were merged from.
type Analysis struct {
	ID        string          `json:"id"`
	ExamID    string          `json:"exam_id,omitempty"`
	ExamIDs   []string        `json:"exam_ids,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
	Result    json.RawMessage `json:"result,omitempty"`

	// Document is the complete payload as returned by the backend
	Document json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full payload and accepts analysis_id as the identifier
func (a *Analysis) UnmarshalJSON(data []byte) error {
	type plain Analysis
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = gjson.GetBytes(data, "analysis_id").String()
	}
	p.Document = slices.Clone(data)
	*a = Analysis(p)
	return nil
}

// UploadFile is one file attached to an upload
type UploadFile struct {
	Name    string    `json:"name" validate:"required,examfile"`
	Content io.Reader `json:"-" validate:"required"`
}

// UploadRequest describes a new exam upload
type UploadRequest struct {
	Title    string       `json:"title" validate:"required,max=200"`
	Subject  string       `json:"subject,omitempty" validate:"omitempty,max=100"`
	Grade    string       `json:"grade,omitempty" validate:"omitempty,max=50"`
	Unit     string       `json:"unit,omitempty" validate:"omitempty,max=100"`
	ExamType string       `json:"exam_type" validate:"required,examtype"`
	Files    []UploadFile `json:"files" validate:"required,min=1,max=20,dive"`
}
