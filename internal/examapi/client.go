package examapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/examsight/examsync/internal/httpclient"
	"github.com/examsight/examsync/internal/validators"
)

// UploadFieldFiles is the multipart field name that carries exam files
const UploadFieldFiles = "files"

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client defines the operations the backend exposes for exams and analyses
type Client interface {
	// ListExams returns one page of exams
	ListExams(ctx context.Context, page, pageSize int) (*ExamList, error)

	// UploadExam creates a new exam from the given files
	UploadExam(ctx context.Context, req *UploadRequest) (*Exam, error)

	// DeleteExam removes an exam
	DeleteExam(ctx context.Context, id string) error

	// UpdateExamType corrects the stored exam type
	UpdateExamType(ctx context.Context, id, examType string) (*TypeUpdate, error)

	// AnalyzeExam requests an analysis; force re-analyzes finished exams
	AnalyzeExam(ctx context.Context, id string, force bool) (*AnalyzeResponse, error)

	// GetExamAnalysisID resolves the analysis id of an exam
	GetExamAnalysisID(ctx context.Context, examID string) (string, error)

	// GetAnalysis returns an analysis by id
	GetAnalysis(ctx context.Context, id string) (*Analysis, error)

	// MergeAnalyses combines several analyses into a new composite one
	MergeAnalyses(ctx context.Context, analysisIDs []string) (*Analysis, error)
}

// RESTClient implements Client over the backend HTTP API
type RESTClient struct {
	http *httpclient.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a Client using the given transport
func NewRESTClient(transport *httpclient.Client) *RESTClient {
	return &RESTClient{http: transport}
}

// ListExams implements Client.ListExams
func (c *RESTClient) ListExams(ctx context.Context, page, pageSize int) (*ExamList, error) {
	if page < 1 {
		return nil, NewValidationError("page", "must be at least 1")
	}
	if pageSize < 1 {
		return nil, NewValidationError("page_size", "must be at least 1")
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	var list ExamList
	if err := c.http.DoJSON(ctx, http.MethodGet, "/exams", query, nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", mapError(err))
	}
	if list.Data == nil {
		list.Data = []Exam{}
	}
	return &list, nil
}

// UploadExam implements Client.UploadExam
func (c *RESTClient) UploadExam(ctx context.Context, req *UploadRequest) (*Exam, error) {
	if req == nil {
		return nil, NewValidationError("", "upload request is required")
	}
	if err := validators.Struct(req); err != nil {
		return nil, uploadValidationError(err)
	}

	body, contentType, err := encodeUpload(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data Exam `json:"data"`
	}
	err = c.http.Do(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		Path:        "/exams",
		Body:        body,
		ContentType: contentType,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to upload exam: %w", mapError(err))
	}
	return &resp.Data, nil
}

// DeleteExam implements Client.DeleteExam
func (c *RESTClient) DeleteExam(ctx context.Context, id string) error {
	if id == "" {
		return NewValidationError("id", "exam id is required")
	}
	if err := c.http.DoJSON(ctx, http.MethodDelete, "/exams/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete exam %s: %w", id, mapError(err))
	}
	return nil
}

// UpdateExamType implements Client.UpdateExamType
func (c *RESTClient) UpdateExamType(ctx context.Context, id, examType string) (*TypeUpdate, error) {
	if id == "" {
		return nil, NewValidationError("id", "exam id is required")
	}
	if examType == "" {
		return nil, NewValidationError("exam_type", "exam type is required")
	}
	in := map[string]string{"exam_type": examType}
	var out TypeUpdate
	err := c.http.DoJSON(ctx, http.MethodPatch, "/exams/"+url.PathEscape(id)+"/type", nil, in, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to update type of exam %s: %w", id, mapError(err))
	}
	return &out, nil
}

// AnalyzeExam implements Client.AnalyzeExam
func (c *RESTClient) AnalyzeExam(ctx context.Context, id string, force bool) (*AnalyzeResponse, error) {
	if id == "" {
		return nil, NewValidationError("id", "exam id is required")
	}
	var in any
	if force {
		in = map[string]bool{"force_reanalyze": true}
	}
	var out AnalyzeResponse
	err := c.http.DoJSON(ctx, http.MethodPost, "/exams/"+url.PathEscape(id)+"/analyze", nil, in, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze exam %s: %w", id, mapError(err))
	}
	return &out, nil
}

// GetExamAnalysisID implements Client.GetExamAnalysisID
func (c *RESTClient) GetExamAnalysisID(ctx context.Context, examID string) (string, error) {
	if examID == "" {
		return "", NewValidationError("id", "exam id is required")
	}
	var out struct {
		AnalysisID string `json:"analysis_id"`
	}
	err := c.http.DoJSON(ctx, http.MethodGet, "/exams/"+url.PathEscape(examID)+"/analysis", nil, nil, &out)
	if err != nil {
		return "", fmt.Errorf("failed to resolve analysis of exam %s: %w", examID, mapError(err))
	}
	if out.AnalysisID == "" {
		return "", fmt.Errorf("exam %s has no analysis: %w", examID, ErrNotFound)
	}
	return out.AnalysisID, nil
}

// GetAnalysis implements Client.GetAnalysis
func (c *RESTClient) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	if id == "" {
		return nil, NewValidationError("id", "analysis id is required")
	}
	var out Analysis
	if err := c.http.DoJSON(ctx, http.MethodGet, "/analysis/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get analysis %s: %w", id, mapError(err))
	}
	return &out, nil
}

// MergeAnalyses implements Client.MergeAnalyses
func (c *RESTClient) MergeAnalyses(ctx context.Context, analysisIDs []string) (*Analysis, error) {
	if len(analysisIDs) < 2 {
		return nil, NewValidationError("analysis_ids", "at least two analyses are required")
	}
	in := map[string][]string{"analysis_ids": analysisIDs}
	var out Analysis
	if err := c.http.DoJSON(ctx, http.MethodPost, "/analysis/merge", nil, in, &out); err != nil {
		return nil, fmt.Errorf("failed to merge analyses: %w", mapError(err))
	}
	return &out, nil
}

func encodeUpload(req *UploadRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"title", req.Title},
		{"subject", req.Subject},
		{"grade", req.Grade},
		{"unit", req.Unit},
		{"exam_type", req.ExamType},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to encode field %s: %w", f.name, err)
		}
	}

	for _, f := range req.Files {
		part, err := w.CreateFormFile(UploadFieldFiles, f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode file %s: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("failed to read file %s: %w", f.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize upload body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func uploadValidationError(err error) error {
	fieldErrs := validators.FieldErrors(err)
	if len(fieldErrs) == 0 {
		return NewValidationError("", err.Error())
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, NewValidationError(fe.Field, fe.Message))
	}
	return errors.Join(errs...)
}
