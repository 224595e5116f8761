package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/clock"
)

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()
	testCases := []struct {
		class  Class
		window time.Duration
		max    int
	}{
		{ClassGeneral, 15 * time.Minute, 100},
		{ClassAuth, 15 * time.Minute, 5},
		{ClassUpload, time.Hour, 20},
		{ClassOTP, 15 * time.Minute, 3},
		{ClassVoting, 24 * time.Hour, 1},
	}
	require.Len(t, policies, len(testCases))
	for _, tc := range testCases {
		t.Run(string(tc.class), func(t *testing.T) {
			assert.Equal(t, Config{Window: tc.window, MaxRequests: tc.max}, policies[tc.class])
		})
	}
}

func TestParseClass(t *testing.T) {
	class, ok := ParseClass("otp")
	assert.True(t, ok)
	assert.Equal(t, ClassOTP, class)

	_, ok = ParseClass("admin")
	assert.False(t, ok)
}

func TestSetKeepsClassesIndependent(t *testing.T) {
	ctx := context.Background()
	set, err := NewSet(DefaultPolicies(), nil, WithClock(clock.NewManual(testStart)))
	require.NoError(t, err)

	voting := set.For(ClassVoting)
	require.NotNil(t, voting)
	assert.True(t, voting.Allow(ctx, "voter-17"))
	assert.False(t, voting.Allow(ctx, "voter-17"))

	assert.True(t, set.For(ClassGeneral).Allow(ctx, "voter-17"))
	assert.Nil(t, set.For(Class("unknown")))
}

func TestSetSweepCoversEveryClass(t *testing.T) {
	ctx := context.Background()
	manualClock := clock.NewManual(testStart)
	set, err := NewSet(DefaultPolicies(), nil, WithClock(manualClock))
	require.NoError(t, err)

	for _, class := range Classes {
		set.For(class).Allow(ctx, "10.0.0.1")
	}
	manualClock.Advance(25 * time.Hour)
	assert.Equal(t, len(Classes), set.Sweep(ctx))
}

func TestSetPropagatesStoreErrors(t *testing.T) {
	_, err := NewSet(DefaultPolicies(), func(Class) (Store, error) {
		return nil, errors.New("no backend")
	})
	assert.Error(t, err)
}

func TestSetUsesStorePerClass(t *testing.T) {
	stores := map[Class]*MemoryStore{}
	set, err := NewSet(DefaultPolicies(), func(class Class) (Store, error) {
		store := NewMemoryStore()
		stores[class] = store
		return store, nil
	})
	require.NoError(t, err)

	set.For(ClassUpload).Allow(context.Background(), "10.0.0.1")
	assert.Equal(t, 1, stores[ClassUpload].Len())
	assert.Equal(t, 0, stores[ClassAuth].Len())
}
