package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf_DeclaredTypes(t *testing.T) {
	tests := []struct {
		eventType Type
		want      Category
	}{
		{TypeNodeStarted, CategoryNodeStatus},
		{TypeNodeStopped, CategoryNodeStatus},
		{TypeNodeSuspended, CategoryNodeStatus},
		{TypeTopologyChanged, CategoryTopologyChanges},
		{TypeLinkCreated, CategoryTopologyChanges},
		{TypeProjectOpened, CategoryProjectEvents},
		{TypeProjectClosed, CategoryProjectEvents},
		{TypeWorkflowCompleted, CategoryProjectEvents},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.eventType))
		})
	}
}

func TestCategoryOf_IsTotal(t *testing.T) {
	// Unknown types map to unmapped, never panic or error.
	assert.Equal(t, CategoryUnmapped, CategoryOf(Type("made.up")))
	assert.Equal(t, CategoryUnmapped, CategoryOf(Type("")))
}

func TestCategory_IsSubscribable(t *testing.T) {
	for _, c := range ValidCategories() {
		assert.True(t, c.IsSubscribable(), "category %s", c)
	}
	assert.False(t, CategoryUnmapped.IsSubscribable())
	assert.False(t, Category("bogus").IsSubscribable())
}

func TestPriority_RoundTrip(t *testing.T) {
	for _, p := range Priorities() {
		parsed, ok := ParsePriority(p.String())
		assert.True(t, ok)
		assert.Equal(t, p, parsed)
	}

	_, ok := ParsePriority("urgent")
	assert.False(t, ok)
}

func TestPriority_DrainOrder(t *testing.T) {
	// Lower numeric value means drained first.
	assert.Less(t, int(PriorityCritical), int(PriorityHigh))
	assert.Less(t, int(PriorityHigh), int(PriorityNormal))
	assert.Less(t, int(PriorityNormal), int(PriorityLow))
}

func TestMessageStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusTimedOut.IsTerminal())
}
