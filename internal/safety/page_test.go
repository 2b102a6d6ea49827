package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func TestClassifyPage(t *testing.T) {
	cases := []struct {
		url, title string
		want       PageType
	}{
		{"https://shop.example/cart", "Your cart", PageCheckout},
		{"https://shop.example/", "收银台", PageCheckout},
		{"https://example.com/admin/users", "Users", PageAdmin},
		{"https://example.com/settings/privacy", "Privacy", PageSettings},
		{"https://example.com/u/42", "个人资料", PageProfile},
		{"https://example.com/register", "Sign up", PageSignup},
		{"https://example.com/login", "Sign in", PageLogin},
		{"https://example.com/", "Home", PageGeneral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyPage(tc.url, tc.title), tc.url)
	}
}

func TestAnalyzePage_Indicators(t *testing.T) {
	pc := &PageContext{
		URL: "https://example.com/account",
		HTML: `<html><head><style>.delete{color:red}</style><script>var cvv = 1;</script></head>
<body><form action="/account/close"><input type="password" name="pw"><button>Close account</button></form></body></html>`,
	}
	pa := AnalyzePage(pc)
	require.NotNil(t, pa)

	assert.Equal(t, PageProfile, pa.PageType)
	assert.True(t, pa.HasAccountIndicators)
	assert.False(t, pa.HasPaymentIndicators, "script bodies are not scanned")
	assert.False(t, pa.HasDeleteIndicators, "style bodies are not scanned")
}

func TestAnalyzePage_Nil(t *testing.T) {
	assert.Nil(t, AnalyzePage(nil))
}

func TestPageCorpus_MalformedMarkup(t *testing.T) {
	corpus := pageCorpus(`<div class="Danger"><p>Delete <b>forever`)
	assert.Contains(t, corpus, "danger")
	assert.Contains(t, corpus, "delete")
	assert.Contains(t, corpus, "forever")
}

func TestTargetText(t *testing.T) {
	elements := []schemas.ElementInfo{
		{Selector: "#a", Text: "Delete"},
		{Selector: "#b", Attributes: map[string]string{"aria-label": "Close"}},
		{Selector: "#c", Attributes: map[string]string{"value": "Buy"}},
	}

	assert.Equal(t, "Delete", TargetText(&schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#a"}}, elements))
	assert.Equal(t, "Close", TargetText(&schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#b"}}, elements))
	assert.Equal(t, "Buy", TargetText(&schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#c"}}, elements))
	assert.Equal(t, "Pay", TargetText(&schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"text": "Pay"}}, elements))
	assert.Equal(t, "", TargetText(&schemas.Action{Tool: schemas.ToolType, Args: map[string]interface{}{"text": "hello"}}, elements),
		"typed text is the payload, not the target")
	assert.Equal(t, "", TargetText(nil, elements))
}
