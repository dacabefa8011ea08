package commbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMessageType(t *testing.T) {
	tests := []struct {
		msg      Message
		expected string
	}{
		{&PlanCompiled{}, "PlanCompiled"},
		{&RunCompleted{}, "RunCompleted"},
		{&TaskStarted{}, "TaskStarted"},
		{&TaskCompleted{}, "TaskCompleted"},
		{&InteractionRequested{}, "InteractionRequested"},
		{&GateDecisionMade{}, "GateDecisionMade"},
		{&ReviewRecorded{}, "ReviewRecorded"},
		{&RetryRuleUpserted{}, "RetryRuleUpserted"},
		{&GetRetryRule{}, "GetRetryRule"},
		{&GetAvoidanceList{}, "GetAvoidanceList"},
		{&ExpirePrompts{}, "ExpirePrompts"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, GetMessageType(tt.msg))
	}
}

func TestGetMessageTypeHonorsTypedMessage(t *testing.T) {
	remote := &RemoteMessage{
		Type:     "TaskCompleted",
		Payload:  map[string]any{"task_id": "task_1"},
		category: string(MessageCategoryEvent),
	}
	assert.Equal(t, "TaskCompleted", GetMessageType(remote))
	assert.Equal(t, "event", remote.Category())
}

func TestMessageCategories(t *testing.T) {
	assert.Equal(t, "event", (&TaskCompleted{}).Category())
	assert.Equal(t, "event", (&GateDecisionMade{}).Category())
	assert.Equal(t, "query", (&GetRetryRule{}).Category())
	assert.Equal(t, "query", (&GetAvoidanceList{}).Category())
	assert.Equal(t, "command", (&ExpirePrompts{}).Category())
}

func TestMessagePriority(t *testing.T) {
	// Urgent: gate decisions and interaction requests.
	assert.Equal(t, PriorityUrgent, MessagePriority(&GateDecisionMade{}))
	assert.Equal(t, PriorityUrgent, MessagePriority(&InteractionRequested{}))

	// Everything else is normal.
	assert.Equal(t, PriorityNormal, MessagePriority(&TaskCompleted{}))
	assert.Equal(t, PriorityNormal, MessagePriority(&PlanCompiled{}))
	assert.Equal(t, PriorityNormal, MessagePriority(&ReviewRecorded{}))
}

func TestQueriesImplementQueryInterface(t *testing.T) {
	var _ Query = (*GetRetryRule)(nil)
	var _ Query = (*GetAvoidanceList)(nil)
}
