package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func TestFuzzyPattern(t *testing.T) {
	tests := []struct {
		name   string
		action *schemas.Action
		want   string
	}{
		{
			name:   "text argument wins",
			action: &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"text": " Sign In ", "selector": "#x"}},
			want:   "sign in",
		},
		{
			name:   "typed text is not a target",
			action: &schemas.Action{Tool: schemas.ToolType, Args: map[string]interface{}{"text": "hello", "selector": "input[name='email']"}},
			want:   "email",
		},
		{
			name:   "selector words without noise",
			action: &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#checkout-btn"}},
			want:   "checkout",
		},
		{
			name:   "no selector",
			action: &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{}},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fuzzyPattern(tt.action))
		})
	}
}

func TestFuzzySelector(t *testing.T) {
	obs := page("https://example.com", "Shop",
		button("#cart", "Cart"),
		button("button.checkout", "Checkout"),
		schemas.ElementInfo{Selector: "#hidden", Tag: "button", Text: "Checkout now", IsVisible: false, IsInteractable: true},
		schemas.ElementInfo{Selector: "input#email", Tag: "input", Attributes: map[string]string{"placeholder": "Email"}, IsVisible: true, IsInteractable: true},
	)

	t.Run("matches label", func(t *testing.T) {
		a := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#checkout-btn"}}
		assert.Equal(t, "button.checkout", fuzzySelector(obs, a, 0.45))
	})

	t.Run("type needs an input", func(t *testing.T) {
		a := &schemas.Action{Tool: schemas.ToolType, Args: map[string]interface{}{"selector": "#mail", "text": "x@y.z"}}
		assert.Equal(t, "input#email", fuzzySelector(obs, a, 0.45))
	})

	t.Run("below threshold", func(t *testing.T) {
		a := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"text": "c"}}
		assert.Empty(t, fuzzySelector(obs, a, 0.45))
	})

	t.Run("never returns the failed selector", func(t *testing.T) {
		a := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "button.checkout", "text": "Checkout"}}
		assert.Empty(t, fuzzySelector(obs, a, 0.45))
	})

	t.Run("nil observation", func(t *testing.T) {
		a := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"text": "Cart"}}
		assert.Empty(t, fuzzySelector(nil, a, 0.45))
	})
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("checkout", "checkout"))
	assert.Equal(t, 0.5, similarity("cart", "cartitem"))
	assert.Equal(t, 0.0, similarity("x", ""))
	// Runes, not bytes.
	assert.Equal(t, 0.5, similarity("删除", "删除账号"))
}
