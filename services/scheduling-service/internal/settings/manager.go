package settings

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

type Store interface {
	Load(ctx context.Context, ownerID string) (ViewSettings, bool, error)
	Save(ctx context.Context, ownerID string, vs ViewSettings) error
}

// Manager reads each owner's settings from the store once and writes them
// back only when they change.
type Manager struct {
	store    Store
	validate *validator.Validate
	logger   *slog.Logger

	mu     sync.Mutex
	loaded map[string]ViewSettings
}

func NewManager(store Store, validate *validator.Validate, logger *slog.Logger) *Manager {
	if validate == nil {
		validate = NewValidator()
	}
	return &Manager{
		store:    store,
		validate: validate,
		logger:   logger,
		loaded:   map[string]ViewSettings{},
	}
}

func (m *Manager) Get(ctx context.Context, ownerID string) (ViewSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(ctx, ownerID)
}

func (m *Manager) get(ctx context.Context, ownerID string) (ViewSettings, error) {
	if vs, ok := m.loaded[ownerID]; ok {
		return vs, nil
	}
	vs, found, err := m.store.Load(ctx, ownerID)
	if err != nil {
		return ViewSettings{}, err
	}
	if !found {
		vs = Default()
	} else if err := Validate(m.validate, vs); err != nil {
		// A record written by an older schema falls back to defaults.
		m.logger.Warn("stored view settings invalid, using defaults", "owner_id", ownerID, "err", err)
		vs = Default()
	}
	m.loaded[ownerID] = vs
	return vs, nil
}

// Put validates vs and persists it if it differs from what is loaded.
// It reports whether a write happened.
func (m *Manager) Put(ctx context.Context, ownerID string, vs ViewSettings) (bool, error) {
	if err := Validate(m.validate, vs); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.get(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if reflect.DeepEqual(current, vs) {
		return false, nil
	}
	if err := m.store.Save(ctx, ownerID, vs); err != nil {
		return false, err
	}
	m.loaded[ownerID] = vs
	return true, nil
}
