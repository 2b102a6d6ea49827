// Package checkpoint snapshots controller state into the bound session and
// restores it. Every failure at this boundary is logged and reported as a
// nil or false result; callers treat it as a no-op.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// Config tunes auto-saving.
type Config struct {
	// AutoSaveEnabled turns AutoSave on. Manual checkpoints always work.
	AutoSaveEnabled bool
	// Interval persists every Nth AutoSave call.
	Interval int
	// MaxAutoSaves is the retention window applied on every auto-save.
	MaxAutoSaves int
	// CleanupKeep is how many auto-saves Cleanup keeps.
	CleanupKeep int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{AutoSaveEnabled: true, Interval: 1, MaxAutoSaves: store.DefaultMaxAutoSaves, CleanupKeep: 5}
}

// Manager owns the binding to one session.
type Manager struct {
	logger  *zap.Logger
	store   store.Store
	emitter events.Emitter
	cfg     Config

	mu          sync.Mutex
	sessionID   string
	sessionName string
	autoCalls   int
}

// NewManager creates a checkpoint manager over st. emitter may be nil.
func NewManager(logger *zap.Logger, st store.Store, emitter events.Emitter, cfg Config) *Manager {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}
	if cfg.MaxAutoSaves <= 0 {
		cfg.MaxAutoSaves = store.DefaultMaxAutoSaves
	}
	if cfg.CleanupKeep <= 0 {
		cfg.CleanupKeep = 5
	}
	return &Manager{
		logger:  logger.Named("checkpoint"),
		store:   st,
		emitter: emitter,
		cfg:     cfg,
	}
}

// BindSession attaches the manager to session id, creating it if it does not
// exist. An empty id generates a new one.
func (m *Manager) BindSession(ctx context.Context, id, name string) error {
	if id == "" {
		id = uuid.New().String()
	}
	if err := store.ValidateID(id); err != nil {
		return err
	}

	sess, err := m.store.Load(ctx, id)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		if name == "" {
			name = id
		}
		sess = store.NewSession(id, name)
		if err := m.store.Save(ctx, sess); err != nil {
			return fmt.Errorf("failed to create session %s: %w", id, err)
		}
		m.logger.Info("Created session.", zap.String("session_id", id), zap.String("name", name))
	case err != nil:
		return fmt.Errorf("failed to load session %s: %w", id, err)
	default:
		m.logger.Info("Bound existing session.", zap.String("session_id", id), zap.Int("checkpoints", len(sess.Checkpoints)))
	}

	m.mu.Lock()
	m.sessionID = sess.ID
	m.sessionName = sess.Name
	m.autoCalls = 0
	m.mu.Unlock()
	return nil
}

// SessionID returns the bound session id, or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SessionName returns the bound session's display name.
func (m *Manager) SessionName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionName
}

// Bound reports whether a session is bound.
func (m *Manager) Bound() bool {
	return m.SessionID() != ""
}

// update runs fn inside a load-modify-save cycle of the bound session.
func (m *Manager) update(ctx context.Context, fn func(*store.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID == "" {
		return errNoSession
	}
	sess, err := m.store.Load(ctx, m.sessionID)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	return m.store.Save(ctx, sess)
}

// load reads the bound session.
func (m *Manager) load(ctx context.Context) (*store.Session, error) {
	m.mu.Lock()
	id := m.sessionID
	m.mu.Unlock()
	if id == "" {
		return nil, errNoSession
	}
	return m.store.Load(ctx, id)
}

var errNoSession = errors.New("no session bound")

// CreateCheckpoint snapshots state as a manual checkpoint.
func (m *Manager) CreateCheckpoint(ctx context.Context, state *schemas.ControllerState, name, description string) *store.CheckpointInfo {
	return m.create(ctx, state, name, description, false)
}

// AutoSave persists state as an auto-save every Interval calls, and updates
// the session's live state on the same write.
func (m *Manager) AutoSave(ctx context.Context, state *schemas.ControllerState) *store.CheckpointInfo {
	if !m.cfg.AutoSaveEnabled {
		return nil
	}
	m.mu.Lock()
	m.autoCalls++
	due := m.autoCalls%m.cfg.Interval == 0
	m.mu.Unlock()
	if !due {
		return nil
	}
	return m.create(ctx, state, fmt.Sprintf("auto-%d", state.StepIndex()), "", true)
}

func (m *Manager) create(ctx context.Context, state *schemas.ControllerState, name, description string, auto bool) *store.CheckpointInfo {
	if state == nil {
		return nil
	}
	info := store.CheckpointInfo{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		StepIndex:   state.StepIndex(),
		CreatedAt:   time.Now().UTC(),
		IsAutoSave:  auto,
	}
	snapshot := state.Serialize()

	var evicted []string
	err := m.update(ctx, func(sess *store.Session) error {
		evicted = sess.AppendCheckpoint(store.Checkpoint{Info: info, State: snapshot}, m.cfg.MaxAutoSaves)
		if auto {
			sess.State = state.Serialize()
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("Failed to create checkpoint.", zap.String("name", name), zap.Bool("auto", auto), zap.Error(err))
		return nil
	}

	m.logger.Debug("Checkpoint created.",
		zap.String("checkpoint_id", info.ID),
		zap.String("name", name),
		zap.Int("step", info.StepIndex),
		zap.Bool("auto", auto),
		zap.Strings("evicted", evicted))
	m.emit(ctx, events.CheckpointCreated, info)
	return &info
}

// RestoreCheckpoint returns the state stored in checkpoint id, or nil.
func (m *Manager) RestoreCheckpoint(ctx context.Context, id string) *schemas.ControllerState {
	return m.restore(ctx, func(sess *store.Session) *store.Checkpoint {
		cp, _ := sess.FindCheckpoint(id)
		return cp
	})
}

// RestoreLatest returns the state of the most recent checkpoint, or nil.
func (m *Manager) RestoreLatest(ctx context.Context) *schemas.ControllerState {
	return m.restore(ctx, func(sess *store.Session) *store.Checkpoint {
		if len(sess.Checkpoints) == 0 {
			return nil
		}
		return &sess.Checkpoints[len(sess.Checkpoints)-1]
	})
}

// RestoreLatestManual returns the state of the most recent manual checkpoint, or nil.
func (m *Manager) RestoreLatestManual(ctx context.Context) *schemas.ControllerState {
	return m.restore(ctx, func(sess *store.Session) *store.Checkpoint {
		for i := len(sess.Checkpoints) - 1; i >= 0; i-- {
			if !sess.Checkpoints[i].Info.IsAutoSave {
				return &sess.Checkpoints[i]
			}
		}
		return nil
	})
}

// RestoreToStep returns the state of the closest checkpoint at or before
// step, preferring the most recent among equals, or nil.
func (m *Manager) RestoreToStep(ctx context.Context, step int) *schemas.ControllerState {
	return m.restore(ctx, func(sess *store.Session) *store.Checkpoint {
		var best *store.Checkpoint
		for i := range sess.Checkpoints {
			cp := &sess.Checkpoints[i]
			if cp.Info.StepIndex > step {
				continue
			}
			if best == nil || cp.Info.StepIndex >= best.Info.StepIndex {
				best = cp
			}
		}
		return best
	})
}

func (m *Manager) restore(ctx context.Context, pick func(*store.Session) *store.Checkpoint) *schemas.ControllerState {
	sess, err := m.load(ctx)
	if err != nil {
		if !errors.Is(err, errNoSession) {
			m.logger.Warn("Failed to load session for restore.", zap.Error(err))
		}
		return nil
	}
	cp := pick(sess)
	if cp == nil || cp.State == nil {
		return nil
	}
	m.logger.Info("Restored checkpoint.", zap.String("checkpoint_id", cp.Info.ID), zap.Int("step", cp.Info.StepIndex))
	m.emit(ctx, events.CheckpointRestored, cp.Info)
	return cp.State.Deserialize()
}

// SaveState persists the live state without touching checkpoint history.
func (m *Manager) SaveState(ctx context.Context, state *schemas.ControllerState) bool {
	if state == nil {
		return false
	}
	snapshot := state.Serialize()
	if err := m.update(ctx, func(sess *store.Session) error {
		sess.State = snapshot
		return nil
	}); err != nil {
		m.logger.Warn("Failed to save state.", zap.Error(err))
		return false
	}
	return true
}

// LoadState returns the live state of the bound session, or nil.
func (m *Manager) LoadState(ctx context.Context) *schemas.ControllerState {
	sess, err := m.load(ctx)
	if err != nil {
		if !errors.Is(err, errNoSession) {
			m.logger.Warn("Failed to load state.", zap.Error(err))
		}
		return nil
	}
	return sess.State.Deserialize()
}

// ListCheckpoints returns checkpoint metadata in creation order.
func (m *Manager) ListCheckpoints(ctx context.Context) []store.CheckpointInfo {
	sess, err := m.load(ctx)
	if err != nil {
		if !errors.Is(err, errNoSession) {
			m.logger.Warn("Failed to list checkpoints.", zap.Error(err))
		}
		return nil
	}
	return sess.CheckpointInfos()
}

// DeleteCheckpoint removes checkpoint id and reports whether it existed.
func (m *Manager) DeleteCheckpoint(ctx context.Context, id string) bool {
	err := m.update(ctx, func(sess *store.Session) error {
		if !sess.RemoveCheckpoint(id) {
			return store.ErrCheckpointNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrCheckpointNotFound) && !errors.Is(err, errNoSession) {
			m.logger.Warn("Failed to delete checkpoint.", zap.String("checkpoint_id", id), zap.Error(err))
		}
		return false
	}
	return true
}

// CleanupAutoSaves keeps the newest keep auto-saves and returns how many were
// removed. keep <= 0 uses the configured CleanupKeep.
func (m *Manager) CleanupAutoSaves(ctx context.Context, keep int) int {
	if keep <= 0 {
		keep = m.cfg.CleanupKeep
	}
	var removed []string
	err := m.update(ctx, func(sess *store.Session) error {
		removed = sess.PruneAutoSaves(keep)
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNoSession) {
			m.logger.Warn("Failed to clean up auto-saves.", zap.Error(err))
		}
		return 0
	}
	if len(removed) > 0 {
		m.logger.Debug("Cleaned up auto-saves.", zap.Int("removed", len(removed)), zap.Int("kept", keep))
	}
	return len(removed)
}

func (m *Manager) emit(ctx context.Context, typ events.Type, info store.CheckpointInfo) {
	m.emitter.Emit(ctx, events.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Payload: events.CheckpointPayload{
			SessionID:    m.SessionID(),
			CheckpointID: info.ID,
			Name:         info.Name,
			StepIndex:    info.StepIndex,
			IsAutoSave:   info.IsAutoSave,
		},
	})
}
