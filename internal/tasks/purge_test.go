package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purgerStub struct {
	before time.Time
	n      int64
	err    error
}

func (p *purgerStub) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return p.n, p.err
}

func TestPurgeHandlerUsesRetention(t *testing.T) {
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	stub := &purgerStub{n: 4}
	h := NewPurgeHandler(stub, 24*time.Hour)
	h.now = func() time.Time { return now }

	task, err := NewPurgeExpiredTask(PurgePayload{})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	assert.Equal(t, now.Add(-24*time.Hour), stub.before)
}

func TestPurgeHandlerPayloadOverride(t *testing.T) {
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	stub := &purgerStub{}
	h := NewPurgeHandler(stub, 24*time.Hour)
	h.now = func() time.Time { return now }

	task, err := NewPurgeExpiredTask(PurgePayload{RetentionSeconds: 3600})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	assert.Equal(t, now.Add(-time.Hour), stub.before)
}

func TestPurgeHandlerBadPayloadSkipsRetry(t *testing.T) {
	h := NewPurgeHandler(&purgerStub{}, time.Hour)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypePurgeExpiredWaves, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPurgeHandlerStoreError(t *testing.T) {
	h := NewPurgeHandler(&purgerStub{err: assert.AnError}, time.Hour)

	body, _ := json.Marshal(PurgePayload{})
	err := h.ProcessTask(context.Background(), asynq.NewTask(TypePurgeExpiredWaves, body))
	assert.ErrorIs(t, err, assert.AnError)
}
