package rabbitmq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invalidatorStub struct {
	invalidated []int
	err         error
}

func (s *invalidatorStub) Invalidate(_ context.Context, userID int) error {
	if s.err != nil {
		return s.err
	}
	s.invalidated = append(s.invalidated, userID)
	return nil
}

func TestApplyBlockEventInvalidatesBothUsers(t *testing.T) {
	inv := &invalidatorStub{}

	err := ApplyBlockEvent(context.Background(), []byte(`{"blocker_id":4,"blocked_id":9}`), inv)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 9}, inv.invalidated)
}

func TestApplyBlockEventMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing blocked": `{"blocker_id":4}`,
		"zero ids":        `{"blocker_id":0,"blocked_id":0}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			inv := &invalidatorStub{}
			err := ApplyBlockEvent(context.Background(), []byte(body), inv)

			var malformed *MalformedEventError
			require.ErrorAs(t, err, &malformed)
			assert.Empty(t, inv.invalidated)
		})
	}
}

func TestApplyBlockEventInvalidationError(t *testing.T) {
	inv := &invalidatorStub{err: errors.New("redis down")}

	err := ApplyBlockEvent(context.Background(), []byte(`{"blocker_id":1,"blocked_id":2}`), inv)
	require.Error(t, err)
	var malformed *MalformedEventError
	assert.False(t, errors.As(err, &malformed))
}

func TestNewBlockEventConsumerRequiresURL(t *testing.T) {
	_, err := NewBlockEventConsumer("", "user.events", "wave-service.blocks")
	assert.Error(t, err)
}
