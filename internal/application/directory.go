package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/persistence"
)

// UserDirectory is the read view of users synchronised from the registration
// workflow, plus the sync entrypoint itself.
type UserDirectory struct {
	store  persistence.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewUserDirectory constructs a directory over store.
func NewUserDirectory(store persistence.Store, clk clock.Clock) *UserDirectory {
	return NewUserDirectoryWithLogger(store, clk, nil)
}

// NewUserDirectoryWithLogger constructs a directory with a specified logger.
func NewUserDirectoryWithLogger(store persistence.Store, clk clock.Clock, logger *slog.Logger) *UserDirectory {
	return &UserDirectory{store: store, clock: defaultClock(clk), logger: defaultLogger(logger)}
}

// GetUser returns one user.
func (d *UserDirectory) GetUser(ctx context.Context, id string) (persistence.User, error) {
	u, err := d.store.Reader().GetUser(ctx, id)
	if err != nil {
		return persistence.User{}, mapStoreError(err, "user")
	}
	return u, nil
}

// ListVerifiedAdmins returns every active, verified administrator.
func (d *UserDirectory) ListVerifiedAdmins(ctx context.Context) ([]persistence.User, error) {
	users, err := d.store.Reader().ListUsers(ctx, persistence.UserFilter{
		Role:         persistence.RoleAdmin,
		VerifiedOnly: true,
		ActiveOnly:   true,
	})
	if err != nil {
		return nil, mapStoreError(err, "user")
	}
	return users, nil
}

// Principal resolves the acting principal for userID. Inactive users are refused.
func (d *UserDirectory) Principal(ctx context.Context, userID string) (Principal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Principal{}, &Error{Kind: KindForbidden, Message: "an authenticated principal is required"}
	}
	u, err := d.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, &Error{Kind: KindForbidden, Message: "unknown principal", Err: err}
		}
		return Principal{}, err
	}
	if !u.Active {
		return Principal{}, &Error{Kind: KindForbidden, Message: "the account is inactive"}
	}
	return Principal{UserID: u.ID, IsAdmin: u.IsVerifiedAdmin()}, nil
}

// Upsert stores a directory record pushed by an administrator or the sync job.
func (d *UserDirectory) Upsert(ctx context.Context, principal Principal, input UserInput) (user persistence.User, err error) {
	if d == nil {
		return persistence.User{}, fmt.Errorf("UserDirectory is nil")
	}
	started := time.Now()
	logger := serviceLogger(ctx, d.logger, "UserDirectory", "Upsert",
		"principal_id", principal.UserID,
		"user_id", input.ID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "user upserted") }()

	if err = requireAdmin(principal); err != nil {
		return
	}
	if vErr := validateUserInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := d.clock.Now()
	err = d.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		user = persistence.User{
			ID:          strings.TrimSpace(input.ID),
			Email:       strings.ToLower(strings.TrimSpace(input.Email)),
			DisplayName: strings.TrimSpace(input.DisplayName),
			Role:        input.Role,
			Verified:    input.Verified,
			Active:      input.Active,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		existing, getErr := tx.GetUser(ctx, user.ID)
		switch {
		case getErr == nil:
			user.CreatedAt = existing.CreatedAt
		case !errors.Is(getErr, persistence.ErrNotFound):
			return getErr
		}
		return tx.UpsertUser(ctx, user)
	})
	if err != nil {
		err = mapStoreError(err, "user")
	}
	return
}

func validateUserInput(input UserInput) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(input.ID) == "" {
		vErr.add("id", "id is required")
	}
	if strings.TrimSpace(input.DisplayName) == "" {
		vErr.add("display_name", "display name is required")
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			vErr.add("email", "email must be a valid address")
		}
	}
	switch input.Role {
	case persistence.RoleAdmin, persistence.RoleMonitor:
	default:
		vErr.add("role", "role must be admin or monitor")
	}
	return vErr
}
