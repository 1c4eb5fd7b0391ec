package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/status"
)

// outputFormat is a flag value restricted to the supported formats
type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

var _ pflag.Value = (*outputFormat)(nil)

func (o *outputFormat) String() string { return string(*o) }

func (o *outputFormat) Set(s string) error {
	switch f := outputFormat(s); f {
	case outputTable, outputJSON, outputYAML:
		*o = f
		return nil
	default:
		return fmt.Errorf("must be one of table, json or yaml")
	}
}

func (*outputFormat) Type() string { return "format" }

var (
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	analyzingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	hintStyle      = lipgloss.NewStyle().Faint(true)
)

// stageNames label the analysis steps reported by the server
var stageNames = [status.StageCount]string{"reading", "classifying", "scoring", "summarizing"}

// renderStatus colours a status and shows the stage of analyzing exams
func renderStatus(e examapi.Exam) string {
	switch e.Status {
	case status.Analyzing:
		label := fmt.Sprintf("analyzing (%d/%d %s)", e.StageIndex()+1, status.StageCount, stageNames[e.StageIndex()])
		return analyzingStyle.Render(label)
	case status.Analyzed:
		return analyzingStyle.Render("analyzed")
	case status.Completed:
		return completedStyle.Render(string(e.Status))
	case status.Failed:
		return failedStyle.Render(string(e.Status))
	default:
		return pendingStyle.Render(string(e.Status))
	}
}

// writeExamTable renders one page of exams
func writeExamTable(w io.Writer, list *examapi.ExamList) error {
	table := tablewriter.NewTable(w)
	table.Header("ID", "Title", "Subject", "Type", "Status", "Error")
	for _, e := range list.Data {
		examType := e.ExamType
		if e.DetectedType != "" && e.DetectedType != e.ExamType {
			examType = fmt.Sprintf("%s (detected %s)", e.ExamType, e.DetectedType)
		}
		row := []string{e.ID, e.Title, e.Subject, examType, renderStatus(e), e.ErrorMessage}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to render exam %s: %w", e.ID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render exams: %w", err)
	}

	_, err := fmt.Fprintln(w, hintStyle.Render(fmt.Sprintf("page %d of %d, %d exams",
		list.Meta.Page, max(list.Meta.TotalPages, 1), list.Meta.Total)))
	return err
}

// writeExam prints a single exam as key/value rows
func writeExam(w io.Writer, e *examapi.Exam) error {
	table := tablewriter.NewTable(w)
	rows := [][]string{
		{"ID", e.ID},
		{"Title", e.Title},
		{"Type", e.ExamType},
		{"Status", renderStatus(*e)},
	}
	if e.DetectedType != "" {
		detected := e.DetectedType
		if e.DetectionConfidence != nil {
			detected += " (" + strconv.FormatFloat(*e.DetectionConfidence*100, 'f', 0, 64) + "%)"
		}
		rows = append(rows, []string{"Detected type", detected})
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// writeYAML prints v as YAML using its JSON field names
func writeYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to format as YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// writeJSON prints v as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
