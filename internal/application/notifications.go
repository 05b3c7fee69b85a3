package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/notify"
	"github.com/example/shift-compliance/internal/persistence"
)

// Event is a structured request to notify a set of principals.
type Event struct {
	Kind       persistence.NotificationKind
	Recipients []string
	Title      string
	Body       string
	RelatedID  string
	// DedupKey, when set, suppresses repeats of (Kind, RelatedID, DedupKey).
	DedupKey string
	// DedupWindow bounds the suppression; zero suppresses forever.
	DedupWindow time.Duration
}

// EmitResult reports what an emission stored.
type EmitResult struct {
	Suppressed    bool
	Notifications []persistence.Notification
}

const releaseTimeout = 5 * time.Second

// DedupDigest is the fixed-width mark key for (kind, relatedID, key).
func DedupDigest(kind persistence.NotificationKind, relatedID, key string) string {
	sum := blake2b.Sum256([]byte(string(kind) + "\x00" + relatedID + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// NotificationEmitter persists notifications with their dedup marks and hands
// them to the outbound sink after commit.
type NotificationEmitter struct {
	store       persistence.Store
	clock       clock.Clock
	idGenerator func() string
	sink        notify.Sink
	logger      *slog.Logger
}

// NewNotificationEmitter constructs an emitter. A nil sink discards deliveries.
func NewNotificationEmitter(store persistence.Store, clk clock.Clock, idGenerator func() string, sink notify.Sink) *NotificationEmitter {
	return NewNotificationEmitterWithLogger(store, clk, idGenerator, sink, nil)
}

// NewNotificationEmitterWithLogger constructs an emitter with a specified logger.
func NewNotificationEmitterWithLogger(store persistence.Store, clk clock.Clock, idGenerator func() string, sink notify.Sink, logger *slog.Logger) *NotificationEmitter {
	if sink == nil {
		sink = notify.Discard
	}
	return &NotificationEmitter{
		store:       store,
		clock:       defaultClock(clk),
		idGenerator: defaultIDGenerator(idGenerator),
		sink:        sink,
		logger:      defaultLogger(logger),
	}
}

// Emit stores one notification per recipient in its own transaction and hands
// them to the sink. A repeat within the dedup window stores nothing and reports
// Suppressed. When a keyed emission cannot be delivered its rows and mark are
// removed again, so a later emission of the same key retries.
func (e *NotificationEmitter) Emit(ctx context.Context, ev Event) (result EmitResult, err error) {
	if e == nil {
		return EmitResult{}, fmt.Errorf("NotificationEmitter is nil")
	}
	started := time.Now()
	logger := serviceLogger(ctx, e.logger, "NotificationEmitter", "Emit",
		"kind", string(ev.Kind),
		"related_id", ev.RelatedID,
	)
	defer func() {
		logOutcome(ctx, logger, started, err, "notifications emitted",
			"recipients", len(result.Notifications),
			"suppressed", result.Suppressed,
		)
	}()

	recipients := uniqueStrings(ev.Recipients)
	if len(recipients) == 0 {
		return EmitResult{}, nil
	}

	now := e.clock.Now()
	var digest string
	if ev.DedupKey != "" {
		digest = DedupDigest(ev.Kind, ev.RelatedID, ev.DedupKey)
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		if digest != "" {
			// A zero cutoff never marks an existing claim stale.
			var staleBefore time.Time
			if ev.DedupWindow > 0 {
				staleBefore = now.Add(-ev.DedupWindow)
			}
			claimErr := tx.ClaimDedupMark(ctx, persistence.DedupMark{
				Key:       digest,
				Kind:      ev.Kind,
				RelatedID: ev.RelatedID,
				EmittedAt: now,
			}, staleBefore)
			if errors.Is(claimErr, persistence.ErrDuplicate) {
				result.Suppressed = true
				return nil
			}
			if claimErr != nil {
				return claimErr
			}
		}

		created := make([]persistence.Notification, 0, len(recipients))
		for _, recipient := range recipients {
			n := persistence.Notification{
				ID:          e.idGenerator(),
				RecipientID: recipient,
				Kind:        ev.Kind,
				Title:       ev.Title,
				Body:        ev.Body,
				RelatedID:   ev.RelatedID,
				CreatedAt:   now,
			}
			if err := tx.CreateNotification(ctx, n); err != nil {
				return err
			}
			created = append(created, n)
		}
		result.Notifications = created
		return nil
	})
	if err != nil {
		result = EmitResult{}
		err = mapStoreError(err, "notification")
		return
	}
	if len(result.Notifications) == 0 {
		return result, nil
	}

	deliverErr := e.deliver(ctx, result.Notifications)
	if deliverErr == nil {
		return result, nil
	}
	logger.WarnContext(ctx, "notification delivery failed", "error", deliverErr, "messages", len(result.Notifications))
	if digest == "" {
		// Nothing would retry an unkeyed event, so its rows stay for the inbox.
		return result, nil
	}
	if releaseErr := e.release(ctx, digest, result.Notifications); releaseErr != nil {
		logger.ErrorContext(ctx, "failed to release dedup mark", "error", releaseErr, "dedup_key", digest)
	}
	result = EmitResult{}
	err = &Error{Kind: KindDeliveryFailed, Message: "notification delivery failed", Err: deliverErr}
	return
}

func (e *NotificationEmitter) deliver(ctx context.Context, rows []persistence.Notification) error {
	msgs := make([]notify.Message, len(rows))
	for i, n := range rows {
		msgs[i] = notify.Message{
			ID:          n.ID,
			RecipientID: n.RecipientID,
			Kind:        string(n.Kind),
			Title:       n.Title,
			Body:        n.Body,
			RelatedID:   n.RelatedID,
			CreatedAt:   n.CreatedAt,
		}
	}
	return e.sink.Deliver(ctx, msgs)
}

// release undoes an undelivered emission. It runs detached from ctx so a
// cancelled caller cannot leave the mark claimed.
func (e *NotificationEmitter) release(ctx context.Context, digest string, rows []persistence.Notification) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return e.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		for _, n := range rows {
			if err := tx.DeleteNotification(ctx, n.ID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
				return err
			}
		}
		return tx.DeleteDedupMark(ctx, digest)
	})
}

// verifiedAdminIDs lists the recipients of administrative alerts.
func verifiedAdminIDs(ctx context.Context, repo persistence.UserRepository) ([]string, error) {
	admins, err := repo.ListUsers(ctx, persistence.UserFilter{
		Role:         persistence.RoleAdmin,
		VerifiedOnly: true,
		ActiveOnly:   true,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(admins))
	for i, a := range admins {
		ids[i] = a.ID
	}
	return ids, nil
}

// NotificationService is the recipient-facing read side.
type NotificationService struct {
	store  persistence.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewNotificationService constructs the read side.
func NewNotificationService(store persistence.Store, clk clock.Clock) *NotificationService {
	return NewNotificationServiceWithLogger(store, clk, nil)
}

// NewNotificationServiceWithLogger constructs the read side with a specified logger.
func NewNotificationServiceWithLogger(store persistence.Store, clk clock.Clock, logger *slog.Logger) *NotificationService {
	return &NotificationService{store: store, clock: defaultClock(clk), logger: defaultLogger(logger)}
}

// List returns the principal's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, principal Principal, unreadOnly bool, page PageRequest) (Page[persistence.Notification], error) {
	rows, err := s.store.Reader().ListNotifications(ctx, persistence.NotificationFilter{
		RecipientID: principal.UserID,
		UnreadOnly:  unreadOnly,
	})
	if err != nil {
		return Page[persistence.Notification]{}, mapStoreError(err, "notification")
	}
	return Paginate(rows, page), nil
}

// MarkRead flags one of the principal's notifications as read. Repeating the
// call keeps the first read-at.
func (s *NotificationService) MarkRead(ctx context.Context, principal Principal, id string) (n persistence.Notification, err error) {
	started := time.Now()
	logger := serviceLogger(ctx, s.logger, "NotificationService", "MarkRead",
		"principal_id", principal.UserID,
		"notification_id", id,
	)
	defer func() { logOutcome(ctx, logger, started, err, "notification read") }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		current, err := tx.GetNotification(ctx, id)
		if err != nil {
			return err
		}
		if current.RecipientID != principal.UserID {
			return persistence.ErrNotFound
		}
		if !current.Read {
			readAt := s.clock.Now()
			current.Read = true
			current.ReadAt = &readAt
			if err := tx.UpdateNotification(ctx, current); err != nil {
				return err
			}
		}
		n = current
		return nil
	})
	if err != nil {
		err = mapStoreError(err, "notification")
	}
	return n, err
}
