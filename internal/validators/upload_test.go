package validators_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examsight/examsync/internal/validators"
)

type upload struct {
	Title    string `json:"title" validate:"required,max=10"`
	ExamType string `json:"exam_type" validate:"required,examtype"`
	Files    []file `json:"files" validate:"required,min=1,dive"`
}

type file struct {
	Name string `json:"name" validate:"required,examfile"`
}

func TestStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      upload
		wantFields []string
	}{
		{
			name: "valid upload",
			input: upload{
				Title:    "Midterm",
				ExamType: "midterm",
				Files:    []file{{Name: "page1.PDF"}, {Name: "page2.jpeg"}},
			},
		},
		{
			name:       "missing title and files",
			input:      upload{ExamType: "quiz"},
			wantFields: []string{"title", "files"},
		},
		{
			name: "title too long",
			input: upload{
				Title:    "a very long exam title",
				ExamType: "quiz",
				Files:    []file{{Name: "a.png"}},
			},
			wantFields: []string{"title"},
		},
		{
			name: "bad exam type",
			input: upload{
				Title:    "Quiz",
				ExamType: "Not A Type",
				Files:    []file{{Name: "a.png"}},
			},
			wantFields: []string{"exam_type"},
		},
		{
			name: "unsupported file extension",
			input: upload{
				Title:    "Quiz",
				ExamType: "quiz",
				Files:    []file{{Name: "a.png"}, {Name: "notes.docx"}},
			},
			wantFields: []string{"files[1].name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validators.Struct(tt.input)
			if len(tt.wantFields) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)

			fieldErrs := validators.FieldErrors(err)
			got := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				got = append(got, fe.Field)
				assert.NotEmpty(t, fe.Message)
			}
			assert.Equal(t, tt.wantFields, got)
		})
	}
}

func TestStruct_CustomMessages(t *testing.T) {
	t.Parallel()

	err := validators.Struct(upload{Title: "Quiz", ExamType: "quiz", Files: []file{{Name: "x.exe"}}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported file type"), err.Error())
}

func TestFieldErrors_Nil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, validators.FieldErrors(nil))
}
