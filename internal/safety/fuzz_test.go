package safety

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// FuzzDetect checks the scoring invariants on arbitrary thoughts and page text.
func FuzzDetect(f *testing.F) {
	f.Add("Delete the selected file", "click", "#file", "")
	f.Add("点击删除账号按钮", "click", "删除账号", "<p>此操作将无法撤销</p>")
	f.Add("Pay now", "click", "#pay", `<input autocomplete="cc-number">`)
	f.Add("", "", "", "<<<>>>")

	d, err := NewDetector(zap.NewNop(), Config{Enabled: true, AlwaysConfirm: []Category{CategoryDelete}})
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, thought, tool, arg, markup string) {
		action := &schemas.Action{Thought: thought, Tool: tool, Args: map[string]interface{}{"selector": arg}}
		res := d.Detect(action, &PageContext{URL: "https://example.com/" + arg, HTML: markup})
		checkInvariants(t, res)
	})
}

// FuzzDetect_Structured fills whole actions and page contexts from fuzzed data.
func FuzzDetect_Structured(f *testing.F) {
	d, err := NewDetector(zap.NewNop(), Config{Enabled: true, NeverConfirmTools: []string{"observe"}})
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		action := &schemas.Action{}
		if err := consumer.GenerateStruct(action); err != nil {
			return
		}
		pc := &PageContext{}
		if err := consumer.GenerateStruct(pc); err != nil {
			pc = nil
		}
		checkInvariants(t, d.Detect(action, pc))
	})
}

func checkInvariants(t *testing.T, res Result) {
	t.Helper()
	if res.Risk.Score < 0 || res.Risk.Score > 100 {
		t.Fatalf("score out of range: %d", res.Risk.Score)
	}
	if res.Risk.Level != LevelForScore(res.Risk.Score) {
		t.Fatalf("level %s does not match score %d", res.Risk.Level, res.Risk.Score)
	}
	dangerous := res.Risk.Level != RiskSafe && res.Risk.Level != RiskLow
	if res.IsDangerous != dangerous {
		t.Fatalf("isDangerous=%v for level %s", res.IsDangerous, res.Risk.Level)
	}
	if res.Risk.Level == RiskCritical && res.Risk.Recommendation != RecommendBlock {
		t.Fatalf("critical risk must recommend block, got %s", res.Risk.Recommendation)
	}
	if res.IsDangerous && len(res.Consequences) == 0 {
		t.Fatalf("dangerous result without consequences")
	}
}
