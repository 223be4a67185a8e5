package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert member: %w", unique)))

	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
}

func TestBoundAppliesQueryTimeout(t *testing.T) {
	st := NewPostgresStore(nil, 250*time.Millisecond)

	before := time.Now()
	ctx, cancel := st.bound(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok, "store contexts must carry a deadline")
	assert.WithinDuration(t, before.Add(250*time.Millisecond), deadline, 50*time.Millisecond)
}

func TestBoundDefaultsWhenUnconfigured(t *testing.T) {
	st := NewPostgresStore(nil, 0)

	ctx, cancel := st.bound(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(defaultQueryTimeout), deadline, time.Second)
}
