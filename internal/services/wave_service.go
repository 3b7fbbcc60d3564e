package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wave-service/internal/models"
	"wave-service/internal/observability"
	"wave-service/internal/repositories"
)

const (
	MaxAreaLen         = 200
	MaxThoughtLen      = 140
	MaxLocationNameLen = 300
	MaxThreshold       = 50

	discoverPageSize    = 50
	proximityCandidates = 200
	listingPageSize     = 100

	maxUnlockAttempts = 3
)

// ActivityTypes is the closed set of activities a wave may advertise.
var ActivityTypes = map[string]struct{}{
	"coffee":  {},
	"food":    {},
	"drinks":  {},
	"walk":    {},
	"run":     {},
	"gym":     {},
	"sports":  {},
	"study":   {},
	"games":   {},
	"music":   {},
	"explore": {},
	"other":   {},
}

// BlockList supplies the users hidden from a caller.
type BlockList interface {
	BlockedUserIDs(ctx context.Context, userID int) ([]int, error)
}

// ListingSource supplies externally managed scheduled listings.
type ListingSource interface {
	ListUpcoming(ctx context.Context, now time.Time, category string, limit int) ([]models.ScheduledListing, error)
}

// WaveNotifier pushes wave state changes to live subscribers.
type WaveNotifier interface {
	BroadcastWaveEvent(waveID int, event models.WaveEvent)
}

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// WaveConfig tunes wave lifecycle rules.
type WaveConfig struct {
	TTL              time.Duration
	DefaultThreshold int
	Location         *time.Location
	UnlockBackoff    time.Duration
}

// CreateWaveInput is the payload for creating a wave.
type CreateWaveInput struct {
	ActivityType string     `json:"activity_type"`
	Area         string     `json:"area"`
	Thought      *string    `json:"thought"`
	LocationName *string    `json:"location_name"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	Threshold    *int       `json:"threshold"`
}

// JoinResult is returned by Join.
type JoinResult struct {
	ParticipantCount int  `json:"participant_count"`
	Joined           bool `json:"joined"`
	Unlocked         bool `json:"unlocked"`
	CrewID           *int `json:"crew_id,omitempty"`
}

// DiscoverQuery filters discovery. Center and RadiusKm are optional.
type DiscoverQuery struct {
	Center       *GeoPoint
	RadiusKm     *float64
	ActivityType string
}

// DiscoverResult carries the live waves and the merged ranked feed.
type DiscoverResult struct {
	Waves          []models.WaveView `json:"waves"`
	MergedListings []models.FeedItem `json:"merged_listings"`
}

// WaveService implements the wave lifecycle and the unlock transition.
type WaveService struct {
	waves    repositories.WaveRepository
	blocks   BlockList
	listings ListingSource
	notifier WaveNotifier
	events   EventPublisher
	cfg      WaveConfig
	now      func() time.Time
}

// WaveOption customizes a WaveService.
type WaveOption func(*WaveService)

// WithWaveNotifier sets the live notifier.
func WithWaveNotifier(n WaveNotifier) WaveOption {
	return func(s *WaveService) { s.notifier = n }
}

// WithWaveEvents sets the domain event publisher.
func WithWaveEvents(p EventPublisher) WaveOption {
	return func(s *WaveService) { s.events = p }
}

// WithWaveClock overrides the clock.
func WithWaveClock(now func() time.Time) WaveOption {
	return func(s *WaveService) { s.now = now }
}

// NewWaveService constructs a WaveService.
func NewWaveService(waves repositories.WaveRepository, blocks BlockList, listings ListingSource, cfg WaveConfig, opts ...WaveOption) *WaveService {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if cfg.DefaultThreshold < 1 {
		cfg.DefaultThreshold = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.UnlockBackoff <= 0 {
		cfg.UnlockBackoff = 20 * time.Millisecond
	}
	s := &WaveService{
		waves:    waves,
		blocks:   blocks,
		listings: listings,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WaveService) clock() time.Time {
	return s.now().In(s.cfg.Location)
}

// Create validates and persists a wave with its creator as first participant.
func (s *WaveService) Create(ctx context.Context, creatorID int, in CreateWaveInput) (models.WaveView, error) {
	now := s.clock()
	wave, err := s.buildWave(creatorID, in, now)
	if err != nil {
		return models.WaveView{}, err
	}

	created, err := s.waves.CreateWithCreator(ctx, wave)
	if err != nil {
		return models.WaveView{}, storeErr("create wave", err)
	}

	observability.IncWaveCreated(created.ActivityType)
	s.publish(ctx, "wave.created", created.ID, map[string]any{
		"creator_id":    created.CreatorID,
		"activity_type": created.ActivityType,
		"threshold":     created.Threshold,
	})
	logrus.WithFields(logrus.Fields{"wave_id": created.ID, "creator_id": creatorID}).Info("wave created")

	return models.WaveView{Wave: created, ParticipantCount: 1, Joined: true}, nil
}

func (s *WaveService) buildWave(creatorID int, in CreateWaveInput, now time.Time) (models.Wave, error) {
	activity := strings.ToLower(strings.TrimSpace(in.ActivityType))
	if _, ok := ActivityTypes[activity]; !ok {
		return models.Wave{}, invalid("activity_type", "unsupported activity type %q", in.ActivityType)
	}

	area := cleanText(in.Area)
	if area == "" {
		return models.Wave{}, invalid("area", "is required")
	}
	if runeLen(area) > MaxAreaLen {
		return models.Wave{}, invalid("area", "must be at most %d characters", MaxAreaLen)
	}

	thought := cleanOptional(in.Thought)
	if thought != nil && runeLen(*thought) > MaxThoughtLen {
		return models.Wave{}, invalid("thought", "must be at most %d characters", MaxThoughtLen)
	}

	locationName := cleanOptional(in.LocationName)
	if locationName != nil && runeLen(*locationName) > MaxLocationNameLen {
		return models.Wave{}, invalid("location_name", "must be at most %d characters", MaxLocationNameLen)
	}

	if (in.Latitude == nil) != (in.Longitude == nil) {
		return models.Wave{}, invalid("latitude", "latitude and longitude must be provided together")
	}
	if in.Latitude != nil {
		if math.IsNaN(*in.Latitude) || *in.Latitude < -90 || *in.Latitude > 90 {
			return models.Wave{}, invalid("latitude", "must be between -90 and 90")
		}
		if math.IsNaN(*in.Longitude) || *in.Longitude < -180 || *in.Longitude > 180 {
			return models.Wave{}, invalid("longitude", "must be between -180 and 180")
		}
	}

	if in.ScheduledFor != nil && !in.ScheduledFor.After(now) {
		return models.Wave{}, invalid("scheduled_for", "must be in the future")
	}

	threshold := s.cfg.DefaultThreshold
	if in.Threshold != nil {
		threshold = *in.Threshold
	}
	if threshold < 1 || threshold > MaxThreshold {
		return models.Wave{}, invalid("threshold", "must be between 1 and %d", MaxThreshold)
	}

	return models.Wave{
		CreatorID:    creatorID,
		ActivityType: activity,
		Area:         area,
		Thought:      thought,
		LocationName: locationName,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		ScheduledFor: in.ScheduledFor,
		Threshold:    threshold,
		StartedAt:    now,
		ExpiresAt:    now.Add(s.cfg.TTL),
	}, nil
}

// Get returns a single wave as seen by requesterID.
func (s *WaveService) Get(ctx context.Context, waveID int, requesterID int) (models.WaveView, error) {
	wave, err := s.visibleWave(ctx, waveID, requesterID)
	if err != nil {
		return models.WaveView{}, err
	}
	return models.WaveView{Wave: wave.Wave, ParticipantCount: wave.ParticipantCount, Joined: wave.Joined}, nil
}

// visibleWave loads a wave and hides it when the creator is blocked or when
// it has expired for someone who never joined it.
func (s *WaveService) visibleWave(ctx context.Context, waveID int, requesterID int) (models.WaveWithCount, error) {
	wave, err := s.waves.GetWave(ctx, waveID, requesterID)
	if errors.Is(err, repositories.ErrWaveNotFound) {
		return models.WaveWithCount{}, ErrNotFound
	}
	if err != nil {
		return models.WaveWithCount{}, storeErr("get wave", err)
	}

	blocked, err := s.blockedSet(ctx, requesterID)
	if err != nil {
		return models.WaveWithCount{}, err
	}
	if _, ok := blocked[wave.CreatorID]; ok {
		return models.WaveWithCount{}, ErrNotFound
	}
	if !wave.Joined && wave.IsExpired(s.clock()) {
		return models.WaveWithCount{}, ErrNotFound
	}
	return wave, nil
}

// Join adds userID to the wave and, when the threshold is crossed, unlocks
// the wave into a crew. Joining twice is a no-op. Once a wave is unlocked it
// accepts no new participants: the crew is frozen at unlock time.
func (s *WaveService) Join(ctx context.Context, waveID int, userID int) (JoinResult, error) {
	if _, err := s.visibleWave(ctx, waveID, userID); err != nil {
		return JoinResult{}, err
	}

	outcome, err := s.waves.AddParticipant(ctx, waveID, userID, s.clock())
	switch {
	case errors.Is(err, repositories.ErrWaveNotFound), errors.Is(err, repositories.ErrWaveExpired):
		return JoinResult{}, ErrNotFound
	case errors.Is(err, repositories.ErrWaveUnlocked):
		return JoinResult{}, ErrWaveClosed
	case err != nil:
		return JoinResult{}, storeErr("join wave", err)
	}

	result := JoinResult{
		ParticipantCount: outcome.ParticipantCount,
		Joined:           outcome.Inserted,
		CrewID:           outcome.CrewID,
	}
	log := logrus.WithFields(logrus.Fields{"wave_id": waveID, "user_id": userID, "participants": outcome.ParticipantCount})

	if outcome.Inserted {
		observability.IncWaveJoin()
		log.Info("wave joined")
		s.notify(waveID, models.WaveEvent{Type: "joined", WaveID: waveID, ParticipantCount: outcome.ParticipantCount})
	}

	// Only a join that added someone can move the wave over its threshold;
	// re-joins never trigger the transition.
	if outcome.Inserted && !outcome.IsUnlocked && outcome.ParticipantCount >= outcome.Threshold {
		unlock, err := s.tryUnlock(ctx, waveID)
		if err != nil {
			return JoinResult{}, err
		}
		result.CrewID = unlock.CrewID
		result.Unlocked = unlock.Created
		if unlock.Created {
			observability.IncWaveUnlock()
			log.WithField("crew_id", *unlock.CrewID).Info("wave unlocked")
			s.notify(waveID, models.WaveEvent{Type: "unlocked", WaveID: waveID, ParticipantCount: outcome.ParticipantCount, CrewID: unlock.CrewID})
			s.publish(ctx, "wave.unlocked", waveID, map[string]any{
				"crew_id":      *unlock.CrewID,
				"participants": outcome.ParticipantCount,
			})
		}
	}

	return result, nil
}

// tryUnlock runs the conditional unlock write, retrying lost races. A
// conflict that outlives the retries is resolved by re-reading the wave: if
// another writer unlocked it, its crew id is returned.
func (s *WaveService) tryUnlock(ctx context.Context, waveID int) (repositories.UnlockOutcome, error) {
	for attempt := 1; attempt <= maxUnlockAttempts; attempt++ {
		out, err := s.waves.Unlock(ctx, waveID)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, repositories.ErrUnlockConflict) {
			return repositories.UnlockOutcome{}, storeErr("unlock wave", err)
		}
		observability.IncUnlockConflict()
		logrus.WithFields(logrus.Fields{"wave_id": waveID, "attempt": attempt}).WithError(err).Warn("unlock conflict, retrying")

		select {
		case <-ctx.Done():
			return repositories.UnlockOutcome{}, storeErr("unlock wave", ctx.Err())
		case <-time.After(time.Duration(attempt) * s.cfg.UnlockBackoff):
		}
	}

	wave, err := s.waves.GetWave(ctx, waveID, 0)
	if err != nil {
		return repositories.UnlockOutcome{}, storeErr("unlock wave", err)
	}
	if !wave.IsUnlocked {
		logrus.WithField("wave_id", waveID).Error("unlock did not settle after retries")
	}
	return repositories.UnlockOutcome{CrewID: wave.CrewID}, nil
}

// Delete removes an open wave. Only its creator may do so.
func (s *WaveService) Delete(ctx context.Context, waveID int, userID int) error {
	wave, err := s.waves.GetWave(ctx, waveID, userID)
	if errors.Is(err, repositories.ErrWaveNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storeErr("get wave", err)
	}
	if wave.CreatorID != userID {
		return ErrForbidden
	}
	if wave.IsUnlocked {
		return ErrWaveClosed
	}

	if err := s.waves.DeleteOpenWave(ctx, waveID, userID); err != nil {
		if errors.Is(err, repositories.ErrWaveNotFound) {
			// unlocked between the read and the delete
			return ErrWaveClosed
		}
		return storeErr("delete wave", err)
	}

	s.publish(ctx, "wave.deleted", waveID, map[string]any{"creator_id": userID})
	logrus.WithFields(logrus.Fields{"wave_id": waveID, "user_id": userID}).Info("wave deleted")
	return nil
}

// Discover returns live waves visible to requesterID and the merged feed.
func (s *WaveService) Discover(ctx context.Context, requesterID int, q DiscoverQuery) (DiscoverResult, error) {
	now := s.clock()

	activity := strings.ToLower(strings.TrimSpace(q.ActivityType))
	if activity != "" {
		if _, ok := ActivityTypes[activity]; !ok {
			return DiscoverResult{}, invalid("type", "unsupported activity type %q", q.ActivityType)
		}
	}

	var radius float64
	if q.Center != nil {
		if !validCoordinates(q.Center.Lat, q.Center.Lng) {
			return DiscoverResult{}, invalid("lat", "coordinates out of range")
		}
		radius = ClampRadius(q.RadiusKm)
	}

	blocked, err := s.blockedSet(ctx, requesterID)
	if err != nil {
		return DiscoverResult{}, err
	}

	query := repositories.WaveQuery{
		ViewerID:        requesterID,
		Now:             now,
		ActivityType:    activity,
		ExcludeCreators: setKeys(blocked),
		Limit:           discoverPageSize,
	}
	if q.Center != nil {
		box := boundingBox(*q.Center, radius)
		query.Bounds = &box
		query.Limit = proximityCandidates
	}

	rows, err := s.waves.ListRecent(ctx, query)
	if err != nil {
		return DiscoverResult{}, storeErr("discover waves", err)
	}

	views := make([]models.WaveView, 0, len(rows))
	for _, row := range rows {
		if len(views) == discoverPageSize {
			break
		}
		if _, ok := blocked[row.CreatorID]; ok {
			continue
		}
		if row.IsExpired(now) {
			continue
		}
		view := models.WaveView{Wave: row.Wave, ParticipantCount: row.ParticipantCount, Joined: row.Joined}
		if q.Center != nil && row.HasLocation() {
			d := HaversineKm(*q.Center, GeoPoint{Lat: *row.Latitude, Lng: *row.Longitude})
			if d > radius {
				continue
			}
			view.DistanceKm = &d
		}
		views = append(views, view)
	}

	feed := make([]models.FeedItem, 0, len(views))
	for _, v := range views {
		feed = append(feed, NormalizeWave(v, now))
	}
	feed = append(feed, s.listingItems(ctx, q.Center, radius, activity, now)...)
	RankFeed(feed)

	return DiscoverResult{Waves: views, MergedListings: feed}, nil
}

// listingItems loads external listings. The listing source is not ours, so
// its failures degrade the feed instead of failing discovery.
func (s *WaveService) listingItems(ctx context.Context, center *GeoPoint, radius float64, category string, now time.Time) []models.FeedItem {
	if s.listings == nil {
		return nil
	}
	listings, err := s.listings.ListUpcoming(ctx, now, category, listingPageSize)
	if err != nil {
		logrus.WithError(err).Warn("scheduled listings unavailable")
		return nil
	}

	items := make([]models.FeedItem, 0, len(listings))
	for _, l := range listings {
		var distance *float64
		if center != nil && l.Latitude != nil && l.Longitude != nil {
			d := HaversineKm(*center, GeoPoint{Lat: *l.Latitude, Lng: *l.Longitude})
			if d > radius {
				continue
			}
			distance = &d
		}
		items = append(items, NormalizeListing(l, distance, now))
	}
	return items
}

func (s *WaveService) blockedSet(ctx context.Context, userID int) (map[int]struct{}, error) {
	set := map[int]struct{}{}
	if s.blocks == nil {
		return set, nil
	}
	ids, err := s.blocks.BlockedUserIDs(ctx, userID)
	if err != nil {
		return nil, storeErr("load block list", err)
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *WaveService) notify(waveID int, event models.WaveEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.BroadcastWaveEvent(waveID, event)
}

func (s *WaveService) publish(ctx context.Context, routingKey string, waveID int, payload map[string]any) {
	if s.events == nil {
		return
	}
	payload["wave_id"] = waveID
	envelope := observability.EventEnvelope{
		EventType: "wave_events",
		EventName: routingKey,
		Payload:   payload,
	}
	if err := s.events.Publish(ctx, routingKey, envelope); err != nil {
		logrus.WithError(err).WithField("routing_key", routingKey).Warn("domain event publish failed")
	}
}

func setKeys(set map[int]struct{}) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}
