package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-compliance/internal/persistence"
)

func TestNotificationEmitter_DedupWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := Event{
		Kind:        persistence.KindExcessiveHours,
		Recipients:  []string{"admin-2", "admin-1", "admin-1", " "},
		Title:       "Excessive hours",
		RelatedID:   "sess-1",
		DedupKey:    "8h",
		DedupWindow: time.Hour,
	}

	first, err := h.emitter.Emit(ctx, ev)
	require.NoError(t, err)
	require.Len(t, first.Notifications, 2)
	assert.Equal(t, "admin-1", first.Notifications[0].RecipientID)

	h.clock.Advance(59 * time.Minute)
	second, err := h.emitter.Emit(ctx, ev)
	require.NoError(t, err)
	assert.True(t, second.Suppressed)

	h.clock.Advance(time.Minute)
	third, err := h.emitter.Emit(ctx, ev)
	require.NoError(t, err)
	assert.False(t, third.Suppressed)
	assert.Len(t, third.Notifications, 2)

	ev.DedupKey = "12h"
	other, err := h.emitter.Emit(ctx, ev)
	require.NoError(t, err)
	assert.Len(t, other.Notifications, 2, "distinct keys do not suppress each other")
}

func TestNotificationEmitter_NoKeyNeverSuppresses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := Event{Kind: persistence.KindCourseHistory, Recipients: []string{"M1"}, RelatedID: "c-1"}

	for i := 0; i < 3; i++ {
		res, err := h.emitter.Emit(ctx, ev)
		require.NoError(t, err)
		assert.Len(t, res.Notifications, 1)
	}

	empty, err := h.emitter.Emit(ctx, Event{Kind: persistence.KindCourseHistory})
	require.NoError(t, err)
	assert.Empty(t, empty.Notifications)
}

func TestNotificationEmitter_FailedDeliveryLeavesKeyUnset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := Event{
		Kind:        persistence.KindShiftNonCompliance,
		Recipients:  []string{"admin-1", "admin-2"},
		RelatedID:   "S1",
		DedupKey:    "non-compliant",
		DedupWindow: 0,
	}

	h.sink.err = errors.New("webhook down")
	res, err := h.emitter.Emit(ctx, ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.True(t, KindOf(err).Retryable())
	assert.Empty(t, res.Notifications)
	assert.Empty(t, h.notifications(t, persistence.NotificationFilter{}))
	assert.Contains(t, h.logs.String(), "notification delivery failed")

	_, err = h.store.Reader().GetDedupMark(ctx, DedupDigest(ev.Kind, ev.RelatedID, ev.DedupKey))
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	h.sink.err = nil
	before := len(h.sink.delivered())
	retry, err := h.emitter.Emit(ctx, ev)
	require.NoError(t, err)
	assert.False(t, retry.Suppressed)
	assert.Len(t, retry.Notifications, 2)
	assert.Len(t, h.sink.delivered(), before+2)
	assert.Len(t, h.notifications(t, persistence.NotificationFilter{}), 2)

	again, err := h.emitter.Emit(ctx, ev)
	require.NoError(t, err)
	assert.True(t, again.Suppressed, "a delivered key suppresses forever without a window")
}

func TestNotificationEmitter_FailedDeliveryKeepsUnkeyedRows(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("webhook down")

	res, err := h.emitter.Emit(context.Background(), Event{
		Kind:       persistence.KindCourseHistory,
		Recipients: []string{"M1"},
		RelatedID:  "c-1",
	})
	require.NoError(t, err)
	assert.Len(t, res.Notifications, 1)
	assert.Len(t, h.notifications(t, persistence.NotificationFilter{RecipientID: "M1"}), 1)
	assert.Contains(t, h.logs.String(), "notification delivery failed")
}

func TestNotificationEmitter_ConcurrentEmitsStoreOneSet(t *testing.T) {
	h := newHarness(t)
	ev := Event{
		Kind:        persistence.KindExcessiveHours,
		Recipients:  []string{"admin-1", "admin-2"},
		RelatedID:   "sess-1",
		DedupKey:    "8h",
		DedupWindow: time.Hour,
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]EmitResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.emitter.Emit(context.Background(), ev)
		}(i)
	}
	wg.Wait()

	stored := 0
	for i := range results {
		require.NoError(t, errs[i])
		stored += len(results[i].Notifications)
	}
	assert.Equal(t, 2, stored)
	assert.Len(t, h.notifications(t, persistence.NotificationFilter{RelatedID: "sess-1"}), 2)
}

func TestNotificationEmitter_UnknownRecipientRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := Event{
		Kind:       persistence.KindShiftNonCompliance,
		Recipients: []string{"admin-1", "ghost"},
		RelatedID:  "S1",
		DedupKey:   "non-compliant",
	}

	_, err := h.emitter.Emit(ctx, ev)
	require.Error(t, err)
	assert.Empty(t, h.notifications(t, persistence.NotificationFilter{}))

	_, err = h.store.Reader().GetDedupMark(ctx, DedupDigest(ev.Kind, ev.RelatedID, ev.DedupKey))
	assert.ErrorIs(t, err, persistence.ErrNotFound, "the mark rolls back with the rows")
}

func TestDedupDigestIsStable(t *testing.T) {
	t.Parallel()

	a := DedupDigest(persistence.KindShiftNonCompliance, "S1", "non-compliant")
	assert.Len(t, a, 64)
	assert.Equal(t, a, DedupDigest(persistence.KindShiftNonCompliance, "S1", "non-compliant"))
	assert.NotEqual(t, a, DedupDigest(persistence.KindShiftNonCompliance, "S1", "late-compliant"))
	assert.NotEqual(t, DedupDigest("a", "b\x00c", ""), DedupDigest("a", "b", "c"))
}

func TestNotificationService_ListAndMarkRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.emitter.Emit(ctx, Event{Kind: persistence.KindCourseHistory, Recipients: []string{"M1"}, Title: "first"})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	second, err := h.emitter.Emit(ctx, Event{Kind: persistence.KindCourseHistory, Recipients: []string{"M1", "M2"}, Title: "second"})
	require.NoError(t, err)

	page, err := h.inbox.List(ctx, monitorM1, false, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	assert.Equal(t, "second", page.Results[0].Title, "newest first")

	var mine persistence.Notification
	for _, n := range second.Notifications {
		if n.RecipientID == "M1" {
			mine = n
		}
	}
	read, err := h.inbox.MarkRead(ctx, monitorM1, mine.ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
	firstRead := *read.ReadAt

	h.clock.Advance(time.Hour)
	again, err := h.inbox.MarkRead(ctx, monitorM1, mine.ID)
	require.NoError(t, err)
	assert.True(t, again.ReadAt.Equal(firstRead))

	unread, err := h.inbox.List(ctx, monitorM1, true, PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, unread.Count)

	_, err = h.inbox.MarkRead(ctx, Principal{UserID: "M2"}, mine.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
