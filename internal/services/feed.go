package services

import (
	"sort"
	"time"

	"wave-service/internal/models"
)

// RankFeed orders items for the merged discovery feed: today first, then the
// upcoming weekend, then soonest start (unknown starts last), then most
// popular. Kind and id break any remaining tie so the order is reproducible.
func RankFeed(items []models.FeedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsHappeningToday != b.IsHappeningToday {
			return a.IsHappeningToday
		}
		if a.IsThisWeekend != b.IsThisWeekend {
			return a.IsThisWeekend
		}
		switch {
		case a.StartsAt != nil && b.StartsAt == nil:
			return true
		case a.StartsAt == nil && b.StartsAt != nil:
			return false
		case a.StartsAt != nil && b.StartsAt != nil && !a.StartsAt.Equal(*b.StartsAt):
			return a.StartsAt.Before(*b.StartsAt)
		}
		if a.Popularity != b.Popularity {
			return a.Popularity > b.Popularity
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
}

// weekendWindow returns [Saturday 00:00, Monday 00:00) of the current weekend
// when now falls on one, otherwise of the next weekend.
func weekendWindow(now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var offset int
	switch now.Weekday() {
	case time.Saturday:
		offset = 0
	case time.Sunday:
		offset = -1
	default:
		offset = int(time.Saturday - now.Weekday())
	}
	start := day.AddDate(0, 0, offset)
	return start, start.AddDate(0, 0, 2)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// timeFlags computes the ranking flags for an item starting at start and
// optionally ending at end. An item already in progress counts as today.
func timeFlags(start, end *time.Time, now time.Time) (today bool, weekend bool) {
	if start == nil {
		return false, false
	}
	loc := now.Location()
	s := start.In(loc)
	today = sameDay(s, now)
	if !today && end != nil && !s.After(now) && end.After(now) {
		today = true
	}
	wStart, wEnd := weekendWindow(now)
	weekend = !s.Before(wStart) && s.Before(wEnd)
	return today, weekend
}

// NormalizeWave converts a wave view into a feed item. A wave without a
// scheduled time is happening now.
func NormalizeWave(w models.WaveView, now time.Time) models.FeedItem {
	start := w.StartedAt
	if w.ScheduledFor != nil {
		start = *w.ScheduledFor
	}
	title := w.Area
	if w.Thought != nil && *w.Thought != "" {
		title = *w.Thought
	}
	expires := w.ExpiresAt
	item := models.FeedItem{
		Kind:       models.FeedKindWave,
		ID:         w.ID,
		Title:      title,
		Category:   w.ActivityType,
		Latitude:   w.Latitude,
		Longitude:  w.Longitude,
		StartsAt:   &start,
		EndsAt:     &expires,
		Popularity: w.ParticipantCount,
		DistanceKm: w.DistanceKm,
	}
	item.IsHappeningToday, item.IsThisWeekend = timeFlags(item.StartsAt, item.EndsAt, now)
	return item
}

// NormalizeListing converts an external listing into a feed item.
func NormalizeListing(l models.ScheduledListing, distance *float64, now time.Time) models.FeedItem {
	item := models.FeedItem{
		Kind:       models.FeedKindListing,
		ID:         l.ID,
		Title:      l.Title,
		Category:   l.Category,
		Latitude:   l.Latitude,
		Longitude:  l.Longitude,
		StartsAt:   l.StartsAt,
		EndsAt:     l.EndsAt,
		Popularity: l.AttendeeCount,
		DistanceKm: distance,
	}
	item.IsHappeningToday, item.IsThisWeekend = timeFlags(l.StartsAt, l.EndsAt, now)
	return item
}
