package utils_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mediadash/edge/utils"

	"github.com/stretchr/testify/assert"
)

func TestFlattenErrors(t *testing.T) {
	assert.NoError(t, utils.FlattenErrors(nil))

	errA := errors.New("a")
	assert.Same(t, errA, utils.FlattenErrors([]error{errA}))

	errB := errors.New("b")
	err := utils.FlattenErrors([]error{errA, errB})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestDeadline(t *testing.T) {
	assert.True(t, utils.Deadline(0).IsZero())

	d := utils.Deadline(time.Minute)
	assert.WithinDuration(t, time.Now().Add(time.Minute), d, time.Second)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(30*time.Second), utils.DeadlineFrom(start, 30*time.Second))
	assert.True(t, utils.DeadlineFrom(start, -time.Second).IsZero())
}

func TestRemaining(t *testing.T) {
	assert.Zero(t, utils.Remaining(time.Time{}))
	assert.Negative(t, utils.Remaining(time.Now().Add(-time.Second)))

	left := utils.Remaining(time.Now().Add(time.Minute))
	assert.Positive(t, left)
	assert.LessOrEqual(t, left, time.Minute)
}

func TestStr(t *testing.T) {
	assert.Equal(t, "", utils.Str(nil))
	assert.Equal(t, "/api/users", utils.Str([]byte("/api/users")))
}
