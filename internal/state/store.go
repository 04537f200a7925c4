package state

import (
	"context"
	"fmt"

	"tap-auth0/internal/config"
	"tap-auth0/internal/singer"
)

// Store persists flushed state documents between runs.
type Store interface {
	Load(ctx context.Context) (*singer.State, error)
	Save(ctx context.Context, st *singer.State) error
	Close() error
}

// Open returns the store selected by cfg, or nil when local persistence is
// disabled.
func Open(cfg config.StateConfig) (Store, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	switch cfg.Backend {
	case config.StateBackendSQLite:
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StateBackendFile, "":
		return NewFileStore(cfg.Path), nil
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", config.ErrConfiguration, cfg.Backend)
	}
}

// Recorder is a Singer writer that also saves every state message to a
// Store once it has been written downstream.
type Recorder struct {
	*singer.Writer
	ctx   context.Context
	store Store
}

func NewRecorder(ctx context.Context, w *singer.Writer, store Store) *Recorder {
	return &Recorder{Writer: w, ctx: ctx, store: store}
}

func (r *Recorder) WriteState(st *singer.State) error {
	if err := r.Writer.WriteState(st); err != nil {
		return err
	}
	if err := r.store.Save(r.ctx, st); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}
