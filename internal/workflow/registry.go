package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// StageStore describes stage persistence used by Registry.
type StageStore interface {
	FindByCode(ctx context.Context, code string) (Stage, error)
	Create(ctx context.Context, stage Stage) (Stage, error)
	List(ctx context.Context) ([]Stage, error)
}

// Registry is a read-through cache over the stage store. Stages are
// append-only and their codes immutable once referenced, so cached entries
// never need invalidation.
type Registry struct {
	store StageStore
	group singleflight.Group

	mu     sync.RWMutex
	byCode map[string]Stage
}

// NewRegistry constructs a Registry.
func NewRegistry(store StageStore) *Registry {
	return &Registry{store: store, byCode: make(map[string]Stage)}
}

// Get returns the stage with the given code, loading it from the store on
// first access. Concurrent loads of the same code are collapsed.
func (r *Registry) Get(ctx context.Context, code string) (Stage, error) {
	r.mu.RLock()
	stage, ok := r.byCode[code]
	r.mu.RUnlock()
	if ok {
		return stage, nil
	}

	v, err, _ := r.group.Do(code, func() (any, error) {
		stage, err := r.store.FindByCode(ctx, code)
		if err != nil {
			return Stage{}, err
		}
		r.mu.Lock()
		r.byCode[code] = stage
		r.mu.Unlock()
		return stage, nil
	})
	if err != nil {
		return Stage{}, err
	}
	return v.(Stage), nil
}

// EnsureDraft returns the DRAFT stage, creating it with the bootstrap
// defaults when missing. DRAFT is the only stage the engine may create on
// its own; every other stage must be seeded before transitions run.
func (r *Registry) EnsureDraft(ctx context.Context) (Stage, error) {
	stage, err := r.Get(ctx, StageDraft)
	if err == nil {
		return stage, nil
	}
	if !errors.Is(err, ErrStageNotFound) {
		return Stage{}, err
	}
	created, err := r.store.Create(ctx, Stage{
		Code:           StageDraft,
		Name:           "Draft",
		Sequence:       1,
		AllowedActions: []Action{ActionEdit, ActionApprove, ActionCancel},
		IsActive:       true,
	})
	if err != nil {
		return Stage{}, err
	}
	r.mu.Lock()
	r.byCode[created.Code] = created
	r.mu.Unlock()
	return created, nil
}

// Seed installs the full stage pipeline, skipping stages that already
// exist. Intended to run once at startup or via the seed-stages CLI.
func (r *Registry) Seed(ctx context.Context) error {
	for _, stage := range seedStages {
		_, err := r.store.FindByCode(ctx, stage.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrStageNotFound) {
			return err
		}
		if _, err := r.store.Create(ctx, stage); err != nil {
			return fmt.Errorf("workflow: seed stage %s: %w", stage.Code, err)
		}
	}
	return nil
}

// ValidateTransitions checks at startup that every stage named by the
// approve table and the rejection target exist in the store, so missing
// transitions surface before traffic is served.
func (r *Registry) ValidateTransitions(ctx context.Context) error {
	required := map[string]struct{}{StageCancelled: {}}
	for from, to := range approveTransitions {
		required[from] = struct{}{}
		required[to] = struct{}{}
	}
	for code := range required {
		if _, err := r.Get(ctx, code); err != nil {
			return fmt.Errorf("workflow: transition table references %s: %w", code, err)
		}
	}
	return nil
}

// List returns every stage ordered by sequence.
func (r *Registry) List(ctx context.Context) ([]Stage, error) {
	return r.store.List(ctx)
}
