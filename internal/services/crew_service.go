package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"wave-service/internal/models"
	"wave-service/internal/observability"
	"wave-service/internal/repositories"
)

const (
	MaxMessageLen       = 500
	DefaultMessageLimit = 100
	MaxMessageLimit     = 200
)

// CrewNotifier pushes new crew messages to live subscribers.
type CrewNotifier interface {
	BroadcastCrewMessage(crewID int, msg models.CrewMessage)
}

// MessageQuery pages through a crew's messages. AfterID makes repeated
// polling cheap: only messages newer than the last one seen are returned.
type MessageQuery struct {
	AfterID int
	Limit   int
}

// CrewService implements crew chat.
type CrewService struct {
	crews    repositories.CrewRepository
	messages repositories.CrewMessageRepository
	notifier CrewNotifier
	events   EventPublisher
}

// NewCrewService constructs a CrewService. notifier and events may be nil.
func NewCrewService(crews repositories.CrewRepository, messages repositories.CrewMessageRepository, notifier CrewNotifier, events EventPublisher) *CrewService {
	return &CrewService{crews: crews, messages: messages, notifier: notifier, events: events}
}

// ListForUser returns the crews userID belongs to with pinned context, member
// count and last message preview.
func (s *CrewService) ListForUser(ctx context.Context, userID int) ([]models.CrewSummary, error) {
	crews, err := s.crews.ListCrewsForUser(ctx, userID)
	if err != nil {
		return nil, storeErr("list crews", err)
	}
	if crews == nil {
		crews = []models.CrewSummary{}
	}
	return crews, nil
}

// Get returns a crew's pinned context and member count for a member.
func (s *CrewService) Get(ctx context.Context, crewID int, requesterID int) (models.CrewSummary, error) {
	crew, err := s.authorize(ctx, crewID, requesterID)
	if err != nil {
		return models.CrewSummary{}, err
	}
	members, err := s.crews.ListMemberIDs(ctx, crewID)
	if err != nil {
		return models.CrewSummary{}, storeErr("list crew members", err)
	}
	return models.CrewSummary{Crew: crew, MemberCount: len(members)}, nil
}

// MemberIDs returns the frozen member set of a crew for a member.
func (s *CrewService) MemberIDs(ctx context.Context, crewID int, requesterID int) ([]int, error) {
	if _, err := s.authorize(ctx, crewID, requesterID); err != nil {
		return nil, err
	}
	members, err := s.crews.ListMemberIDs(ctx, crewID)
	if err != nil {
		return nil, storeErr("list crew members", err)
	}
	return members, nil
}

// GetMessages returns messages ordered oldest to newest.
func (s *CrewService) GetMessages(ctx context.Context, crewID int, requesterID int, q MessageQuery) ([]models.CrewMessage, error) {
	if q.AfterID < 0 {
		return nil, invalid("after_id", "must not be negative")
	}
	limit := q.Limit
	switch {
	case limit == 0:
		limit = DefaultMessageLimit
	case limit < 0 || limit > MaxMessageLimit:
		return nil, invalid("limit", "must be between 1 and %d", MaxMessageLimit)
	}

	if _, err := s.authorize(ctx, crewID, requesterID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListMessages(ctx, crewID, q.AfterID, limit)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	if msgs == nil {
		msgs = []models.CrewMessage{}
	}
	return msgs, nil
}

// SendMessage appends a message from a member and returns it.
func (s *CrewService) SendMessage(ctx context.Context, crewID int, senderID int, content string) (models.CrewMessage, error) {
	if _, err := s.authorize(ctx, crewID, senderID); err != nil {
		return models.CrewMessage{}, err
	}

	text := cleanText(content)
	if text == "" {
		return models.CrewMessage{}, invalid("content", "is required")
	}
	if runeLen(text) > MaxMessageLen {
		return models.CrewMessage{}, invalid("content", "must be at most %d characters", MaxMessageLen)
	}

	msg, err := s.messages.CreateMessage(ctx, crewID, senderID, text)
	if err != nil {
		return models.CrewMessage{}, storeErr("create message", err)
	}

	observability.IncCrewMessage()
	if s.notifier != nil {
		s.notifier.BroadcastCrewMessage(crewID, msg)
	}
	if s.events != nil {
		envelope := observability.EventEnvelope{
			EventType: "crew_events",
			EventName: "crew.message_sent",
			Payload:   map[string]any{"crew_id": crewID, "message_id": msg.ID, "sender_id": senderID},
		}
		if err := s.events.Publish(ctx, "crew.message_sent", envelope); err != nil {
			logrus.WithError(err).WithField("crew_id", crewID).Warn("domain event publish failed")
		}
	}
	return msg, nil
}

func (s *CrewService) authorize(ctx context.Context, crewID int, userID int) (models.Crew, error) {
	crew, err := s.crews.GetCrew(ctx, crewID)
	if errors.Is(err, repositories.ErrCrewNotFound) {
		return models.Crew{}, ErrNotFound
	}
	if err != nil {
		return models.Crew{}, storeErr("get crew", err)
	}
	member, err := s.crews.IsMember(ctx, crewID, userID)
	if err != nil {
		return models.Crew{}, storeErr("check crew membership", err)
	}
	if !member {
		return models.Crew{}, ErrForbidden
	}
	return crew, nil
}
