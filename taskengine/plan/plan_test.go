package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionKindFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    ActionKind
		wantErr bool
	}{
		{"web", ActionKindWeb, false},
		{" Interact ", ActionKindInteract, false},
		{"NOTIFY", ActionKindNotify, false},
		{"teleport", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ActionKindFromString(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestRequiresInteraction(t *testing.T) {
	assert.True(t, ActionKindInteract.RequiresInteraction())
	assert.False(t, ActionKindWeb.RequiresInteraction())
	assert.False(t, ActionKindNotify.RequiresInteraction())
}

func TestIsHighRisk(t *testing.T) {
	assert.False(t, (&Action{RiskLevel: 0.69}).IsHighRisk())
	assert.True(t, (&Action{RiskLevel: 0.7}).IsHighRisk())
	assert.True(t, (&Action{RiskLevel: 1.0}).IsHighRisk())
}

func TestTaskIsNoOp(t *testing.T) {
	assert.True(t, (&Task{Name: "Analyze"}).IsNoOp())
	assert.False(t, (&Task{Action: &Action{Kind: ActionKindWeb}}).IsNoOp())
	assert.False(t, (&Task{Children: []*Task{{}}}).IsNoOp())
}

func treeFixture() *Plan {
	return NewPlan("goal", []*Task{
		{
			ID:   "t1",
			Name: "Book",
			Action: &Action{
				Kind: ActionKindWeb, Name: "book", RiskLevel: 0.8,
			},
			Children: []*Task{
				{ID: "t1a", Name: "Fallback", Action: &Action{Kind: ActionKindNotify, Name: "draft", RiskLevel: 0.1}},
			},
		},
		{ID: "t2", Name: "Confirm", Action: &Action{Kind: ActionKindInteract, Name: "confirm", RiskLevel: 0.3}},
	}, "travel")
}

func TestPlanMetadata(t *testing.T) {
	p := treeFixture()

	require.NotNil(t, p.Metadata)
	assert.Equal(t, 3, p.Metadata.TaskCount, "fallback children count toward the total")
	assert.Equal(t, 0.8, p.Metadata.AggregateRisk)
	assert.Equal(t, 3*DefaultTaskDurationSeconds, p.Metadata.EstimatedDuration)
	assert.Equal(t, "travel", p.Metadata.Domain)
}

func TestFindTaskSearchesFallbackBranches(t *testing.T) {
	p := treeFixture()

	found := p.FindTask("t1a")
	require.NotNil(t, found)
	assert.Equal(t, "Fallback", found.Name)

	assert.Nil(t, p.FindTask("missing"))
}

func TestWalkStopsWhenVisitorReturnsFalse(t *testing.T) {
	p := treeFixture()

	var visited []string
	p.Tasks[0].Walk(func(task *Task) bool {
		visited = append(visited, task.ID)
		return task.ID != "t1"
	})

	assert.Equal(t, []string{"t1"}, visited)
}

func TestResultSentinels(t *testing.T) {
	skipped := NewSkippedResult("t1")
	assert.True(t, skipped.OK)
	assert.Equal(t, StatusSkipped, skipped.Status())

	pending := NewPendingInteractionResult("t2", "prompt_1")
	assert.True(t, pending.OK)
	assert.True(t, pending.IsPendingInteraction())
	assert.Equal(t, "prompt_1", pending.Result["prompt_id"])

	failed := NewFailureResult("t3", "boom")
	assert.False(t, failed.OK)
	assert.Equal(t, "boom", failed.ErrorText())
	assert.Empty(t, failed.Status())
}

func TestRunReportAggregation(t *testing.T) {
	report := &RunReport{
		PlanID: "plan_1",
		Results: []*ExecutionResult{
			NewSuccessResult("t1", nil),
			NewFailureResult("t2", "boom"),
			NewPendingInteractionResult("t3", "prompt_1"),
		},
	}

	assert.Equal(t, []string{"t1"}, report.CompletedTaskIDs(),
		"pending interaction must not count as completed")
	assert.Equal(t, "boom", report.FirstError())
	require.NotNil(t, report.ResultFor("t2"))
	assert.Nil(t, report.ResultFor("missing"))
}

func TestRunOutcomeFromString(t *testing.T) {
	got, ok := RunOutcomeFromString(" Paused ")
	assert.True(t, ok)
	assert.Equal(t, RunOutcomePaused, got)

	_, ok = RunOutcomeFromString("exploded")
	assert.False(t, ok)

	assert.True(t, RunOutcomeCompleted.IsTerminalSuccess())
	assert.False(t, RunOutcomePaused.IsTerminalSuccess())
}
