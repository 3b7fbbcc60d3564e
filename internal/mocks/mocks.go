package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"wave-service/internal/models"
	"wave-service/internal/services"
)

type WaveServiceMock struct {
	mock.Mock
}

func (m *WaveServiceMock) Create(ctx context.Context, creatorID int, in services.CreateWaveInput) (models.WaveView, error) {
	args := m.Called(ctx, creatorID, in)
	var wave models.WaveView
	if val := args.Get(0); val != nil {
		wave = val.(models.WaveView)
	}
	return wave, args.Error(1)
}

func (m *WaveServiceMock) Get(ctx context.Context, waveID int, requesterID int) (models.WaveView, error) {
	args := m.Called(ctx, waveID, requesterID)
	var wave models.WaveView
	if val := args.Get(0); val != nil {
		wave = val.(models.WaveView)
	}
	return wave, args.Error(1)
}

func (m *WaveServiceMock) Join(ctx context.Context, waveID int, userID int) (services.JoinResult, error) {
	args := m.Called(ctx, waveID, userID)
	var result services.JoinResult
	if val := args.Get(0); val != nil {
		result = val.(services.JoinResult)
	}
	return result, args.Error(1)
}

func (m *WaveServiceMock) Delete(ctx context.Context, waveID int, userID int) error {
	args := m.Called(ctx, waveID, userID)
	return args.Error(0)
}

func (m *WaveServiceMock) Discover(ctx context.Context, requesterID int, q services.DiscoverQuery) (services.DiscoverResult, error) {
	args := m.Called(ctx, requesterID, q)
	var result services.DiscoverResult
	if val := args.Get(0); val != nil {
		result = val.(services.DiscoverResult)
	}
	return result, args.Error(1)
}

type CrewServiceMock struct {
	mock.Mock
}

func (m *CrewServiceMock) ListForUser(ctx context.Context, userID int) ([]models.CrewSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.CrewSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.CrewSummary)
	}
	return list, args.Error(1)
}

func (m *CrewServiceMock) Get(ctx context.Context, crewID int, requesterID int) (models.CrewSummary, error) {
	args := m.Called(ctx, crewID, requesterID)
	var crew models.CrewSummary
	if val := args.Get(0); val != nil {
		crew = val.(models.CrewSummary)
	}
	return crew, args.Error(1)
}

func (m *CrewServiceMock) MemberIDs(ctx context.Context, crewID int, requesterID int) ([]int, error) {
	args := m.Called(ctx, crewID, requesterID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *CrewServiceMock) GetMessages(ctx context.Context, crewID int, requesterID int, q services.MessageQuery) ([]models.CrewMessage, error) {
	args := m.Called(ctx, crewID, requesterID, q)
	var list []models.CrewMessage
	if val := args.Get(0); val != nil {
		list = val.([]models.CrewMessage)
	}
	return list, args.Error(1)
}

func (m *CrewServiceMock) SendMessage(ctx context.Context, crewID int, senderID int, content string) (models.CrewMessage, error) {
	args := m.Called(ctx, crewID, senderID, content)
	var msg models.CrewMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.CrewMessage)
	}
	return msg, args.Error(1)
}

type BlockSourceMock struct {
	mock.Mock
}

func (m *BlockSourceMock) BlockedUserIDs(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

// PublisherMock stands in for the AMQP publisher behind audit and domain events.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}
