package agent

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// loopDetector watches the tail of the history for repetition.
type loopDetector struct {
	window    int
	threshold int
}

func newLoopDetector(window, threshold int) *loopDetector {
	if window <= 0 {
		window = 3
	}
	if threshold <= 1 {
		threshold = 2
	}
	return &loopDetector{window: window, threshold: threshold}
}

// Repeated reports whether one (tool, args) signature occurs at least
// threshold times within the last window actions, whatever their outcome.
func (d *loopDetector) Repeated(history []*schemas.Action) (string, bool) {
	start := len(history) - d.window
	if start < 0 {
		start = 0
	}
	counts := make(map[string]int)
	for _, a := range history[start:] {
		sig := a.Signature()
		counts[sig]++
		if counts[sig] >= d.threshold {
			return sig, true
		}
	}
	return "", false
}

// Stalled returns guidance when the last threshold actions used the same tool
// and the page did not change across the most recent one.
func (d *loopDetector) Stalled(history []*schemas.Action, before, after *schemas.Observation) string {
	if len(history) < d.threshold || before == nil || after == nil {
		return ""
	}
	tail := history[len(history)-d.threshold:]
	tool := tail[0].Tool
	for _, a := range tail[1:] {
		if a.Tool != tool {
			return ""
		}
	}
	if fingerprint(before) != fingerprint(after) {
		return ""
	}
	return fmt.Sprintf("The last %d %q actions did not change the page. Try a different tool or element, or finish if the goal is already met.", d.threshold, tool)
}

// fingerprint summarizes page identity and content for change detection.
func fingerprint(o *schemas.Observation) uint64 {
	if o == nil {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(o.URL))
	h.Write([]byte{0})
	h.Write([]byte(o.Title))
	h.Write([]byte{0})
	h.Write([]byte(o.DOMSnapshot))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(len(o.VisibleElements))))
	for _, el := range o.VisibleElements {
		h.Write([]byte(el.Selector))
		h.Write([]byte(el.Text))
	}
	return h.Sum64()
}
