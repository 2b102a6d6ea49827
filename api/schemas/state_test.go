package schemas

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *ControllerState {
	verified := true
	return &ControllerState{
		Status: StatusThinking,
		Goal:   "Navigate to https://example.com",
		CurrentObservation: &Observation{
			URL:   "https://example.com",
			Title: "Example",
			VisibleElements: []ElementInfo{
				{Selector: "#more", Tag: "a", Text: "More information", Attributes: map[string]string{"href": "/more"}, IsVisible: true, IsInteractable: true},
			},
		},
		ActionHistory: []*Action{
			{
				ID:     "a-1",
				Tool:   ToolNavigate,
				Args:   map[string]interface{}{"url": "https://example.com"},
				Result: &ActionResult{Success: true, Verified: &verified},
			},
		},
		IterationCount:         1,
		MaxIterations:          20,
		MaxConsecutiveFailures: 3,
		StartTime:              time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		Context:                map[string]interface{}{"instruction": "open it", "session_name": "demo"},
	}
}

func TestSerializeFlattensContext(t *testing.T) {
	s := sampleState()
	ser := s.Serialize()

	require.Len(t, ser.Context, 2)
	assert.Equal(t, "instruction", ser.Context[0].Key)
	assert.Equal(t, "session_name", ser.Context[1].Key)

	back := ser.Deserialize()
	if diff := cmp.Diff(s, back, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSerializeIsACopy(t *testing.T) {
	s := sampleState()
	ser := s.Serialize()

	s.ActionHistory[0].Args["url"] = "https://changed.example"
	s.Context["instruction"] = "changed"

	assert.Equal(t, "https://example.com", ser.ActionHistory[0].Args["url"])
	assert.Equal(t, "open it", ser.Context[0].Value)
}

func TestActionSignature(t *testing.T) {
	a := &Action{Tool: ToolClick, Args: map[string]interface{}{"selector": "#a", "text": "Go"}}
	b := &Action{Tool: ToolClick, Args: map[string]interface{}{"text": "Go", "selector": "#a"}}
	c := &Action{Tool: ToolClick, Args: map[string]interface{}{"selector": "#b"}}

	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestStepIndex(t *testing.T) {
	s := sampleState()
	assert.Equal(t, 1, s.StepIndex())

	s.Plan = &Plan{Steps: make([]PlanStep, 4), CurrentStepIndex: 2}
	assert.Equal(t, 2, s.StepIndex())
}

func TestLastActions(t *testing.T) {
	s := &ControllerState{}
	assert.Nil(t, s.LastActions(3))

	for i := 0; i < 5; i++ {
		s.ActionHistory = append(s.ActionHistory, &Action{ID: string(rune('a' + i))})
	}
	last := s.LastActions(3)
	require.Len(t, last, 3)
	assert.Equal(t, "c", last[0].ID)
	assert.Equal(t, "e", last[2].ID)
	assert.Len(t, s.LastActions(10), 5)
}

func TestActionFailedIgnoresSkipped(t *testing.T) {
	skipped := &Action{Result: &ActionResult{Success: false, Skipped: true}}
	failed := &Action{Result: &ActionResult{Success: false}}
	pending := &Action{}

	assert.False(t, skipped.Failed())
	assert.True(t, failed.Failed())
	assert.False(t, pending.Failed())
}
