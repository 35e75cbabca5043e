package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	plans map[string]*Plan
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{plans: make(map[string]*Plan)}
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListActive(_ context.Context) ([]*Plan, error) {
	var out []*Plan
	for _, p := range f.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) Seed(_ context.Context, plans []*Plan) error {
	for _, p := range plans {
		if _, exists := f.plans[p.ID]; !exists {
			f.plans[p.ID] = p
		}
	}
	return nil
}

func TestGetPurchasablePlan(t *testing.T) {
	repo := newFakeRepo()
	repo.plans["starter"] = &Plan{ID: "starter", Credits: 50, Active: true}
	repo.plans["legacy"] = &Plan{ID: "legacy", Credits: 100, Active: false}
	svc := NewService(repo, zap.NewNop())

	t.Run("active plan", func(t *testing.T) {
		p, err := svc.GetPurchasablePlan(context.Background(), "starter")
		require.NoError(t, err)
		assert.Equal(t, int64(50), p.Credits)
	})

	t.Run("inactive plan", func(t *testing.T) {
		_, err := svc.GetPurchasablePlan(context.Background(), "legacy")
		assert.ErrorIs(t, err, ErrPlanInactive)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := svc.GetPurchasablePlan(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})
}

func TestSeedDefaults(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, zap.NewNop())

	require.NoError(t, svc.SeedDefaults(context.Background()))
	plans, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 3)

	// Seeding again must not clobber operator edits.
	repo.plans["starter"].PriceCents = 1299
	require.NoError(t, svc.SeedDefaults(context.Background()))
	assert.Equal(t, int64(1299), repo.plans["starter"].PriceCents)
}
