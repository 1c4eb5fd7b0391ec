package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     Status
		to       Status
		expected bool
	}{
		{name: "pending to analyzing", from: Pending, to: Analyzing, expected: true},
		{name: "analyzing progress update", from: Analyzing, to: Analyzing, expected: true},
		{name: "analyzing to completed", from: Analyzing, to: Completed, expected: true},
		{name: "analyzing to failed", from: Analyzing, to: Failed, expected: true},
		{name: "analyzing to analyzed marker", from: Analyzing, to: Analyzed, expected: true},
		{name: "analyzed to completed", from: Analyzed, to: Completed, expected: true},
		{name: "pending to completed skips analyzing", from: Pending, to: Completed, expected: false},
		{name: "analyzing back to pending", from: Analyzing, to: Pending, expected: false},
		{name: "completed to pending", from: Completed, to: Pending, expected: false},
		{name: "failed to pending", from: Failed, to: Pending, expected: false},
		{name: "completed to analyzing without reanalyze", from: Completed, to: Analyzing, expected: false},
		{name: "failed to completed", from: Failed, to: Completed, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNothingReachesPendingFromTerminal(t *testing.T) {
	t.Parallel()

	all := []Status{Pending, Analyzing, Completed, Failed, Analyzed}
	for _, from := range []Status{Completed, Failed} {
		for _, to := range all {
			if to == Pending {
				assert.Error(t, ValidateTransition(from, to, true), "%s -> %s", from, to)
			}
		}
	}
}

func TestValidateTransition_Reanalyze(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTransition(Completed, Analyzing, true))
	require.NoError(t, ValidateTransition(Failed, Analyzing, true))

	err := ValidateTransition(Completed, Analyzing, false)
	require.Error(t, err)

	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, Completed, transitionErr.From)
	assert.Equal(t, Analyzing, transitionErr.To)
	assert.Equal(t, "invalid status transition completed -> analyzing", err.Error())
}

func TestStageIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   Status
		step     *int
		expected int
	}{
		{name: "analyzing step 3 maps to stage 2", status: Analyzing, step: ptr.To(3), expected: 2},
		{name: "analyzing step 1 maps to stage 0", status: Analyzing, step: ptr.To(1), expected: 0},
		{name: "analyzing without step", status: Analyzing, step: nil, expected: 0},
		{name: "step 0 clamps to 0", status: Analyzing, step: ptr.To(0), expected: 0},
		{name: "negative step clamps to 0", status: Analyzing, step: ptr.To(-4), expected: 0},
		{name: "step above range clamps to last stage", status: Analyzing, step: ptr.To(9), expected: 3},
		{name: "completed resets stage", status: Completed, step: ptr.To(3), expected: 0},
		{name: "pending has stage 0", status: Pending, step: nil, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, StageIndex(tt.status, tt.step))
		})
	}
}

func TestStatus_IsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Analyzing.IsValid())
	assert.True(t, Analyzed.IsValid())
	assert.False(t, Status("queued").IsValid())
	assert.True(t, Completed.IsTerminal())
	assert.False(t, Analyzed.IsTerminal())
}
