package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"wave-service/internal/models"
	"wave-service/internal/repositories"
)

type participant struct {
	userID   int
	joinedAt time.Time
}

// memStore is an in-memory stand-in for the waves, crews and messages tables.
// Every method holds the mutex for its whole body, which gives the same
// isolation the row locks give the SQL repositories.
type memStore struct {
	mu sync.Mutex

	waves        map[int]*models.Wave
	participants map[int][]participant
	crews        map[int]models.Crew
	members      map[int][]int
	messages     []models.CrewMessage

	nextWave, nextCrew, nextMessage int

	// conflicts makes the next N Unlock calls fail with ErrUnlockConflict.
	conflicts    int
	unlockCalls  int
	crewsCreated int
	lastQuery    repositories.WaveQuery
}

func newMemStore() *memStore {
	return &memStore{
		waves:        map[int]*models.Wave{},
		participants: map[int][]participant{},
		crews:        map[int]models.Crew{},
		members:      map[int][]int{},
	}
}

func (s *memStore) withCount(w *models.Wave, viewerID int) models.WaveWithCount {
	joined := false
	for _, p := range s.participants[w.ID] {
		if p.userID == viewerID {
			joined = true
		}
	}
	return models.WaveWithCount{Wave: *w, ParticipantCount: len(s.participants[w.ID]), Joined: joined}
}

func (s *memStore) CreateWithCreator(_ context.Context, wave models.Wave) (models.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWave++
	wave.ID = s.nextWave
	s.waves[wave.ID] = &wave
	s.participants[wave.ID] = []participant{{userID: wave.CreatorID, joinedAt: wave.StartedAt}}
	return wave, nil
}

func (s *memStore) GetWave(_ context.Context, waveID int, viewerID int) (models.WaveWithCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waves[waveID]
	if !ok {
		return models.WaveWithCount{}, repositories.ErrWaveNotFound
	}
	return s.withCount(w, viewerID), nil
}

func (s *memStore) AddParticipant(_ context.Context, waveID int, userID int, now time.Time) (repositories.JoinOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waves[waveID]
	if !ok {
		return repositories.JoinOutcome{}, repositories.ErrWaveNotFound
	}
	outcome := repositories.JoinOutcome{Threshold: w.Threshold, IsUnlocked: w.IsUnlocked, CrewID: w.CrewID}
	if !s.withCount(w, userID).Joined {
		if w.IsExpired(now) {
			return repositories.JoinOutcome{}, repositories.ErrWaveExpired
		}
		if w.IsUnlocked {
			return repositories.JoinOutcome{}, repositories.ErrWaveUnlocked
		}
		s.participants[waveID] = append(s.participants[waveID], participant{userID: userID, joinedAt: now})
		outcome.Inserted = true
	}
	outcome.ParticipantCount = len(s.participants[waveID])
	return outcome, nil
}

func (s *memStore) Unlock(_ context.Context, waveID int) (repositories.UnlockOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlockCalls++
	if s.conflicts > 0 {
		s.conflicts--
		return repositories.UnlockOutcome{}, repositories.ErrUnlockConflict
	}
	w, ok := s.waves[waveID]
	if !ok {
		return repositories.UnlockOutcome{}, repositories.ErrWaveNotFound
	}
	if w.IsUnlocked {
		return repositories.UnlockOutcome{CrewID: w.CrewID}, nil
	}
	if len(s.participants[waveID]) < w.Threshold {
		return repositories.UnlockOutcome{}, nil
	}

	s.nextCrew++
	crewID := s.nextCrew
	waveRef := waveID
	s.crews[crewID] = models.Crew{
		ID:           crewID,
		WaveID:       &waveRef,
		CreatorID:    w.CreatorID,
		ActivityType: w.ActivityType,
		Area:         w.Area,
		Thought:      w.Thought,
		LocationName: w.LocationName,
		ScheduledFor: w.ScheduledFor,
		CreatedAt:    time.Now(),
	}
	for _, p := range s.participants[waveID] {
		s.members[crewID] = append(s.members[crewID], p.userID)
	}
	w.IsUnlocked = true
	w.CrewID = &crewID
	s.crewsCreated++
	return repositories.UnlockOutcome{CrewID: &crewID, Created: true}, nil
}

func (s *memStore) ListRecent(_ context.Context, q repositories.WaveQuery) ([]models.WaveWithCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q
	excluded := map[int]bool{}
	for _, id := range q.ExcludeCreators {
		excluded[id] = true
	}

	var out []models.WaveWithCount
	for _, w := range s.waves {
		if w.IsExpired(q.Now) || excluded[w.CreatorID] {
			continue
		}
		if q.ActivityType != "" && w.ActivityType != q.ActivityType {
			continue
		}
		if b := q.Bounds; b != nil && w.HasLocation() {
			if *w.Latitude < b.MinLat || *w.Latitude > b.MaxLat {
				continue
			}
			if !b.SkipLongitude && (*w.Longitude < b.MinLng || *w.Longitude > b.MaxLng) {
				continue
			}
		}
		out = append(out, s.withCount(w, q.ViewerID))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) DeleteOpenWave(_ context.Context, waveID int, creatorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waves[waveID]
	if !ok || w.CreatorID != creatorID || w.IsUnlocked {
		return repositories.ErrWaveNotFound
	}
	delete(s.waves, waveID)
	delete(s.participants, waveID)
	return nil
}

func (s *memStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, w := range s.waves {
		if w.ExpiresAt.Before(before) {
			delete(s.waves, id)
			delete(s.participants, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetCrew(_ context.Context, crewID int) (models.Crew, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	crew, ok := s.crews[crewID]
	if !ok {
		return models.Crew{}, repositories.ErrCrewNotFound
	}
	return crew, nil
}

func (s *memStore) IsMember(_ context.Context, crewID int, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.members[crewID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListMemberIDs(_ context.Context, crewID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]int(nil), s.members[crewID]...)
	sort.Ints(ids)
	return ids, nil
}

func (s *memStore) ListCrewsForUser(_ context.Context, userID int) ([]models.CrewSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CrewSummary
	for crewID, ids := range s.members {
		for _, id := range ids {
			if id != userID {
				continue
			}
			summary := models.CrewSummary{Crew: s.crews[crewID], MemberCount: len(ids)}
			for i := len(s.messages) - 1; i >= 0; i-- {
				if s.messages[i].CrewID == crewID {
					msg := s.messages[i]
					summary.LastMessage = &msg
					break
				}
			}
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) CreateMessage(_ context.Context, crewID int, senderID int, content string) (models.CrewMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessage++
	msg := models.CrewMessage{ID: s.nextMessage, CrewID: crewID, SenderID: senderID, Content: content, CreatedAt: time.Now()}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) ListMessages(_ context.Context, crewID int, afterID int, limit int) ([]models.CrewMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CrewMessage
	for _, m := range s.messages {
		if m.CrewID == crewID && m.ID > afterID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		if afterID > 0 {
			out = out[:limit]
		} else {
			out = out[len(out)-limit:]
		}
	}
	return out, nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type blockStub map[int][]int

func (b blockStub) BlockedUserIDs(_ context.Context, userID int) ([]int, error) {
	return b[userID], nil
}

type listingStub struct {
	listings []models.ScheduledListing
	err      error
}

func (l listingStub) ListUpcoming(_ context.Context, _ time.Time, _ string, _ int) ([]models.ScheduledListing, error) {
	return l.listings, l.err
}

type recordingNotifier struct {
	mu         sync.Mutex
	waveEvents []models.WaveEvent
	messages   []models.CrewMessage
}

func (n *recordingNotifier) BroadcastWaveEvent(_ int, event models.WaveEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waveEvents = append(n.waveEvents, event)
}

func (n *recordingNotifier) BroadcastCrewMessage(_ int, msg models.CrewMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}
