package confirmation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/safety"
)

func TestNewRequest_Preview(t *testing.T) {
	req := newRequest(30 * time.Second)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 30*time.Second, req.Timeout)
	assert.Contains(t, req.Preview, "Action: click selector=#delete")
	assert.Contains(t, req.Preview, "Intent: Delete the account")
	assert.Contains(t, req.Preview, "Risk: HIGH (score 72, category delete)")
	assert.Contains(t, req.Preview, "  - Data will be permanently deleted")
}

func TestNewRequest_CopiesAction(t *testing.T) {
	action := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#x"}}
	req := NewRequest(action, dangerousDetection(), time.Second, nil)
	action.Args["selector"] = "#y"
	assert.Equal(t, "#x", req.Action.StringArg("selector"))
}

func TestNewRequest_Highlight(t *testing.T) {
	obs := &schemas.Observation{
		VisibleElements: []schemas.ElementInfo{
			{Selector: "#keep", Text: "Keep"},
			{Selector: "#delete", Text: "Delete account", BoundingBox: &schemas.BoundingBox{X: 10, Y: 20, Width: 100, Height: 30}},
		},
	}

	t.Run("by selector", func(t *testing.T) {
		action := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#delete"}}
		req := NewRequest(action, dangerousDetection(), time.Second, obs)
		require.NotNil(t, req.Highlight)
		assert.Equal(t, "#delete", req.Highlight.Selector)
		require.NotNil(t, req.Highlight.BoundingBox)
		assert.Equal(t, 100.0, req.Highlight.BoundingBox.Width)
		assert.Equal(t, "#f57c00", req.Highlight.Color)
	})

	t.Run("by text", func(t *testing.T) {
		action := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"text": "Delete account"}}
		det := dangerousDetection()
		det.Risk.Level = safety.RiskCritical
		req := NewRequest(action, det, time.Second, obs)
		require.NotNil(t, req.Highlight)
		assert.Equal(t, "#delete", req.Highlight.Selector)
		assert.Equal(t, "#d32f2f", req.Highlight.Color)
	})

	t.Run("no target", func(t *testing.T) {
		action := &schemas.Action{Tool: schemas.ToolNavigate, Args: map[string]interface{}{"url": "https://example.com"}}
		assert.Nil(t, NewRequest(action, dangerousDetection(), time.Second, obs).Highlight)
	})
}
