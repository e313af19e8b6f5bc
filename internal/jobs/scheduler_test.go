package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) RefreshExpiring(ctx context.Context) (int, error) {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("job context has no deadline")
	}
	return 2, f.err
}

type fakePurger struct {
	before time.Time
}

func (f *fakePurger) PurgeTombstones(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 3, nil
}

func TestScheduler_RegistersJobs(t *testing.T) {
	s := NewScheduler(&fakeRefresher{}, &fakePurger{}, zap.NewNop())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 2)
}

func TestRefreshTokens(t *testing.T) {
	r := &fakeRefresher{}
	s := NewScheduler(r, &fakePurger{}, zap.NewNop())

	s.RefreshTokens()
	assert.Equal(t, 1, r.calls)

	r.err = errors.New("store down")
	assert.NotPanics(t, s.RefreshTokens)
	assert.Equal(t, 2, r.calls)
}

func TestPurgeTombstones_UsesRetention(t *testing.T) {
	p := &fakePurger{}
	s := NewScheduler(&fakeRefresher{}, p, zap.NewNop())

	s.PurgeTombstones()
	assert.WithinDuration(t, time.Now().Add(-30*24*time.Hour), p.before, time.Minute)
}
