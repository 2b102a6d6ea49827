package store

import (
	"sort"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// DefaultMaxAutoSaves is the store-level retention window for auto-saves.
const DefaultMaxAutoSaves = 10

// CheckpointInfo is the metadata of a checkpoint.
type CheckpointInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StepIndex   int       `json:"stepIndex"`
	CreatedAt   time.Time `json:"createdAt"`
	IsAutoSave  bool      `json:"isAutoSave"`
}

// Checkpoint is an immutable named snapshot of controller state.
type Checkpoint struct {
	Info  CheckpointInfo           `json:"info"`
	State *schemas.SerializedState `json:"state"`
}

// Session is the unit of persistence: the live state of one task plus its
// checkpoint history in creation order.
type Session struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	State       *schemas.SerializedState `json:"state,omitempty"`
	Checkpoints []Checkpoint             `json:"checkpoints"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Goal        string                   `json:"goal,omitempty"`
	Status      schemas.ControllerStatus `json:"status,omitempty"`
	Checkpoints int                      `json:"checkpoints"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// NewSession returns an empty session.
func NewSession(id, name string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Name: name, Checkpoints: []Checkpoint{}, CreatedAt: now, UpdatedAt: now}
}

// Summary derives the listing view.
func (s *Session) Summary() Summary {
	sum := Summary{
		ID:          s.ID,
		Name:        s.Name,
		Checkpoints: len(s.Checkpoints),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.State != nil {
		sum.Goal = s.State.Goal
		sum.Status = s.State.Status
	}
	return sum
}

// AppendCheckpoint adds cp and, if it is an auto-save, evicts the oldest
// auto-saves beyond maxAutoSaves. Manual checkpoints are never evicted.
// It returns the IDs of evicted checkpoints.
func (s *Session) AppendCheckpoint(cp Checkpoint, maxAutoSaves int) []string {
	s.Checkpoints = append(s.Checkpoints, cp)
	if !cp.Info.IsAutoSave || maxAutoSaves <= 0 {
		return nil
	}
	return s.PruneAutoSaves(maxAutoSaves)
}

// PruneAutoSaves keeps only the newest keep auto-saves.
func (s *Session) PruneAutoSaves(keep int) []string {
	if keep < 0 {
		keep = 0
	}
	autos := 0
	for _, cp := range s.Checkpoints {
		if cp.Info.IsAutoSave {
			autos++
		}
	}
	excess := autos - keep
	if excess <= 0 {
		return nil
	}

	var evicted []string
	kept := s.Checkpoints[:0]
	for _, cp := range s.Checkpoints {
		if cp.Info.IsAutoSave && excess > 0 {
			evicted = append(evicted, cp.Info.ID)
			excess--
			continue
		}
		kept = append(kept, cp)
	}
	s.Checkpoints = kept
	return evicted
}

// FindCheckpoint returns the checkpoint with the given id.
func (s *Session) FindCheckpoint(id string) (*Checkpoint, bool) {
	for i := range s.Checkpoints {
		if s.Checkpoints[i].Info.ID == id {
			return &s.Checkpoints[i], true
		}
	}
	return nil, false
}

// RemoveCheckpoint deletes a checkpoint by id and reports whether it existed.
func (s *Session) RemoveCheckpoint(id string) bool {
	for i, cp := range s.Checkpoints {
		if cp.Info.ID == id {
			s.Checkpoints = append(s.Checkpoints[:i], s.Checkpoints[i+1:]...)
			return true
		}
	}
	return false
}

// CheckpointInfos lists checkpoint metadata in creation order.
func (s *Session) CheckpointInfos() []CheckpointInfo {
	out := make([]CheckpointInfo, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		out[i] = cp.Info
	}
	return out
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.State = cloneState(s.State)
	c.Checkpoints = make([]Checkpoint, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		c.Checkpoints[i] = Checkpoint{Info: cp.Info, State: cloneState(cp.State)}
	}
	return &c
}

func cloneState(s *schemas.SerializedState) *schemas.SerializedState {
	if s == nil {
		return nil
	}
	return s.Deserialize().Serialize()
}

// sortSummaries orders summaries newest first.
func sortSummaries(sums []Summary) {
	sort.Slice(sums, func(i, j int) bool {
		if sums[i].UpdatedAt.Equal(sums[j].UpdatedAt) {
			return sums[i].ID < sums[j].ID
		}
		return sums[i].UpdatedAt.After(sums[j].UpdatedAt)
	})
}
