package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/shift-compliance/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	assert.Equal(t, "", err.Error())
	assert.Equal(t, "validation failed", (&ValidationError{}).Error())

	withFields := &ValidationError{FieldErrors: map[string]string{"room_id": "required", "name": "required"}}
	assert.Equal(t, "validation failed: name, room_id", withFields.Error())
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	assert.False(t, (&ValidationError{}).HasErrors())
	assert.True(t, (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors())
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	assert.Equal(t, "value", base.FieldErrors["first"])

	base.merge(&ValidationError{FieldErrors: map[string]string{"second": "another"}})
	assert.Equal(t, "another", base.FieldErrors["second"])

	base.merge(nil)
	assert.Len(t, base.FieldErrors, 2)
	assert.ErrorIs(t, base, ErrMissingField)
}

func TestKindCategories(t *testing.T) {
	t.Parallel()

	cases := map[Kind]Category{
		KindBadInterval:       CategoryInput,
		KindPastStart:         CategoryInput,
		KindUnverified:        CategoryAuthorization,
		KindForbidden:         CategoryAuthorization,
		KindRoomConflict:      CategoryConflict,
		KindShiftDoesNotCover: CategoryConflict,
		KindAlreadyClosed:     CategoryConflict,
		KindTimeout:           CategoryTransient,
		KindStoreUnavailable:  CategoryTransient,
		KindDeliveryFailed:    CategoryTransient,
		KindInternal:          CategoryInternal,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Category(), string(kind))
	}
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindRoomConflict.Retryable())
}

func TestErrorMatchesSentinelByKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", newError(KindRoomConflict, "room R1 is already staffed"))
	assert.ErrorIs(t, err, ErrRoomConflict)
	assert.NotErrorIs(t, err, ErrUserConflict)
	assert.Equal(t, KindRoomConflict, KindOf(err))

	detailed := newError(KindNoShift, "no shift").WithDetail("upcoming_shift", false)
	assert.Equal(t, false, detailed.Details["upcoming_shift"])
}

func TestKindOfMapsStoreSentinels(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindNotFound, KindOf(persistence.ErrNotFound))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("%w: deadline", persistence.ErrTimeout)))
	assert.Equal(t, KindStoreUnavailable, KindOf(persistence.ErrUnavailable))
	assert.Equal(t, KindMissingField, KindOf(&ValidationError{}))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestMapStoreError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, mapStoreError(nil, "shift"))

	notFound := mapStoreError(persistence.ErrNotFound, "shift")
	var appErr *Error
	if assert.ErrorAs(t, notFound, &appErr) {
		assert.Equal(t, KindNotFound, appErr.Kind)
		assert.Equal(t, "shift not found", appErr.Message)
		assert.ErrorIs(t, notFound, persistence.ErrNotFound)
	}

	timeout := mapStoreError(persistence.ErrTimeout, "shift")
	if assert.ErrorAs(t, timeout, &appErr) {
		assert.Equal(t, "retry the request", appErr.Suggestion)
	}

	original := newError(KindAlreadyIn, "already in")
	assert.Same(t, original, mapStoreError(original, "session"))

	raw := errors.New("disk on fire")
	assert.Equal(t, raw, mapStoreError(raw, "room"))
}
