package schemas

import (
	"time"
)

// -- Page Observation Schemas --

// LoadState describes how far the current document has progressed through loading.
type LoadState string

const (
	LoadStateLoading     LoadState = "loading"
	LoadStateInteractive LoadState = "interactive"
	LoadStateComplete    LoadState = "complete"
)

// UnknownURL is the placeholder URL carried by a degraded observation.
const UnknownURL = "unknown"

// BoundingBox is the viewport rectangle of an element in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementInfo is a read-only description of a DOM node candidate.
type ElementInfo struct {
	Selector       string            `json:"selector"`
	Tag            string            `json:"tag"`
	Text           string            `json:"text,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	IsVisible      bool              `json:"isVisible"`
	IsInteractable bool              `json:"isInteractable"`
	BoundingBox    *BoundingBox      `json:"boundingBox,omitempty"`
}

// Observation is a point-in-time view of the page produced by the tool adapter.
type Observation struct {
	Timestamp       time.Time     `json:"timestamp"`
	URL             string        `json:"url"`
	Title           string        `json:"title"`
	DOMSnapshot     string        `json:"domSnapshot,omitempty"`
	VisibleElements []ElementInfo `json:"visibleElements"`
	Screenshot      string        `json:"screenshot,omitempty"` // Base64 encoded PNG.
	LoadState       LoadState     `json:"loadState,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// DegradedObservation is used when the adapter cannot observe the page.
// The loop continues with it instead of aborting.
func DegradedObservation(reason string) *Observation {
	return &Observation{
		Timestamp:       time.Now(),
		URL:             UnknownURL,
		VisibleElements: []ElementInfo{},
		Error:           reason,
	}
}

// IsDegraded reports whether the observation carries no usable page information.
func (o *Observation) IsDegraded() bool {
	return o == nil || o.URL == UnknownURL || o.URL == ""
}

// Clone returns a deep copy of the observation.
func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	c := *o
	if o.VisibleElements != nil {
		c.VisibleElements = make([]ElementInfo, len(o.VisibleElements))
		for i, el := range o.VisibleElements {
			c.VisibleElements[i] = el.Clone()
		}
	}
	return &c
}

// Clone returns a deep copy of the element.
func (e ElementInfo) Clone() ElementInfo {
	c := e
	if e.Attributes != nil {
		c.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	if e.BoundingBox != nil {
		bb := *e.BoundingBox
		c.BoundingBox = &bb
	}
	return c
}

// PageInfo is the lightweight page summary returned by the getPageInfo tool.
type PageInfo struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	LoadState LoadState `json:"loadState,omitempty"`
}
