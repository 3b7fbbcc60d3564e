package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unlockedCrew builds a crew of users 1, 2 and 3.
func unlockedCrew(t *testing.T, f *waveFixture) int {
	t.Helper()
	wave := f.create(t, 1, CreateWaveInput{})
	_, err := f.waves.Join(context.Background(), wave.ID, 2)
	require.NoError(t, err)
	res, err := f.waves.Join(context.Background(), wave.ID, 3)
	require.NoError(t, err)
	require.NotNil(t, res.CrewID)
	return *res.CrewID
}

func TestSendMessageRoundTrip(t *testing.T) {
	f := newWaveFixture(t, nil, nil)
	ctx := context.Background()
	crewID := unlockedCrew(t, f)

	sent, err := f.crews.SendMessage(ctx, crewID, 2, "  on my way, 5 min <3 ")
	require.NoError(t, err)
	assert.Equal(t, "on my way, 5 min <3", sent.Content)
	assert.Equal(t, 2, sent.SenderID)

	msgs, err := f.crews.GetMessages(ctx, crewID, 3, MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent, msgs[0])

	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, sent.ID, f.notifier.messages[0].ID)
}

func TestSendMessageKeepsPlainPunctuation(t *testing.T) {
	f := newWaveFixture(t, nil, nil)
	ctx := context.Background()
	crewID := unlockedCrew(t, f)

	cases := []string{
		`Tom & Jerry's "spot"`,
		"meet at <the fountain> at 5, bring <drinks>",
		"<b>not bold</b> &amp; literal",
	}
	for _, content := range cases {
		sent, err := f.crews.SendMessage(ctx, crewID, 1, content)
		require.NoError(t, err)
		assert.Equal(t, content, sent.Content)
	}

	msgs, err := f.crews.GetMessages(ctx, crewID, 2, MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, len(cases))
	for i, content := range cases {
		assert.Equal(t, content, msgs[i].Content)
	}
}

func TestSendMessageNonMemberForbidden(t *testing.T) {
	f := newWaveFixture(t, nil, nil)
	crewID := unlockedCrew(t, f)

	_, err := f.crews.SendMessage(context.Background(), crewID, 4, "let me in")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.store.messageCount())

	_, err = f.crews.GetMessages(context.Background(), crewID, 4, MessageQuery{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendMessageMissingCrew(t *testing.T) {
	f := newWaveFixture(t, nil, nil)

	_, err := f.crews.SendMessage(context.Background(), 404, 1, "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessageLengthRules(t *testing.T) {
	f := newWaveFixture(t, nil, nil)
	ctx := context.Background()
	crewID := unlockedCrew(t, f)

	_, err := f.crews.SendMessage(ctx, crewID, 1, strings.Repeat("ü", MaxMessageLen))
	require.NoError(t, err)

	var verr *ValidationError
	_, err = f.crews.SendMessage(ctx, crewID, 1, strings.Repeat("ü", MaxMessageLen+1))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)

	_, err = f.crews.SendMessage(ctx, crewID, 1, " \t\n ")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, f.store.messageCount())
}

func TestGetMessagesPaging(t *testing.T) {
	f := newWaveFixture(t, nil, nil)
	ctx := context.Background()
	crewID := unlockedCrew(t, f)
	for i := 1; i <= 5; i++ {
		_, err := f.crews.SendMessage(ctx, crewID, 1+i%3, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	after, err := f.crews.GetMessages(ctx, crewID, 1, MessageQuery{AfterID: 2})
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, "msg 3", after[0].Content)
	assert.Equal(t, "msg 5", after[2].Content)

	latest, err := f.crews.GetMessages(ctx, crewID, 1, MessageQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "msg 4", latest[0].Content)
	assert.Equal(t, "msg 5", latest[1].Content)

	var verr *ValidationError
	_, err = f.crews.GetMessages(ctx, crewID, 1, MessageQuery{Limit: MaxMessageLimit + 1})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "limit", verr.Field)
}

func TestGetMessagesPollingDeliversEveryMessage(t *testing.T) {
	f := newWaveFixture(t, nil, nil)
	ctx := context.Background()
	crewID := unlockedCrew(t, f)

	first, err := f.crews.SendMessage(ctx, crewID, 1, "msg 1")
	require.NoError(t, err)
	for i := 2; i <= 5; i++ {
		_, err := f.crews.SendMessage(ctx, crewID, 2, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	var seen []string
	cursor := first.ID
	for polls := 0; polls < 5; polls++ {
		page, err := f.crews.GetMessages(ctx, crewID, 3, MessageQuery{AfterID: cursor, Limit: 2})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			seen = append(seen, m.Content)
		}
		cursor = page[len(page)-1].ID
	}

	assert.Equal(t, []string{"msg 2", "msg 3", "msg 4", "msg 5"}, seen)
}

func TestListForUser(t *testing.T) {
	f := newWaveFixture(t, nil, nil)
	ctx := context.Background()
	crewID := unlockedCrew(t, f)
	_, err := f.crews.SendMessage(ctx, crewID, 2, "see you")
	require.NoError(t, err)

	crews, err := f.crews.ListForUser(ctx, 3)
	require.NoError(t, err)
	require.Len(t, crews, 1)
	assert.Equal(t, crewID, crews[0].ID)
	assert.Equal(t, 3, crews[0].MemberCount)
	require.NotNil(t, crews[0].LastMessage)
	assert.Equal(t, "see you", crews[0].LastMessage.Content)

	none, err := f.crews.ListForUser(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
