package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	c, err := cs.GetCount(ctx, "msg", "user1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.Increment(ctx, "msg", "user1"))
	assert.NoError(cs.Increment(ctx, "msg", "user1"))

	for _, period := range []string{PeriodTotal, PeriodDay, PeriodHour, PeriodMinute} {
		c, err = cs.GetCount(ctx, "msg", "user1", period)
		assert.NoError(err)
		assert.Equal(2, c)
	}

	assert.NoError(cs.IncrementPeriod(ctx, "violation", "user1", PeriodDay))
	c, err = cs.GetCount(ctx, "violation", "user1", PeriodDay)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = cs.GetCount(ctx, "violation", "user1", PeriodHour)
	assert.NoError(err)
	assert.Equal(0, c)

	c, err = cs.GetCountDistinct(ctx, "dupe", "hash1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.IncrementDistinct(ctx, "dupe", "hash1", "user1"))
	assert.NoError(cs.IncrementDistinct(ctx, "dupe", "hash1", "user1"))
	assert.NoError(cs.IncrementDistinct(ctx, "dupe", "hash1", "user2"))
	c, err = cs.GetCountDistinct(ctx, "dupe", "hash1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(2, c)
}

func TestMemCountStoreWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	c, err := cs.GetWindowCount(ctx, "join", "group1", time.Minute)
	assert.NoError(err)
	assert.Equal(0, c)

	for i := 1; i <= 5; i++ {
		c, err = cs.AddToWindow(ctx, "join", "group1", time.Minute)
		assert.NoError(err)
		assert.Equal(i, c)
	}

	// events outside the window get pruned
	c, err = cs.AddToWindow(ctx, "join", "group1", time.Nanosecond)
	assert.NoError(err)
	assert.Equal(1, c)
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	// Increment two different values from multiple goroutines while
	// readers interleave; run with `-race`.
	var wg sync.WaitGroup
	fnInc := func(name, val string, times int) {
		defer wg.Done()
		for i := 0; i < times; i++ {
			assert.NoError(cs.Increment(ctx, name, val))
			assert.NoError(cs.IncrementDistinct(ctx, name, name, val))
			_, err := cs.AddToWindow(ctx, name, val, time.Minute)
			assert.NoError(err)
			time.Sleep(time.Nanosecond)
		}
	}
	fnRead := func(name, val string, times int) {
		for i := 0; i < times; i++ {
			_, err := cs.GetCount(ctx, name, val, PeriodTotal)
			assert.NoError(err)
			_, err = cs.GetWindowCount(ctx, name, val, time.Minute)
			assert.NoError(err)
			time.Sleep(time.Nanosecond)
		}
	}
	wg.Add(4)
	go fnInc("msg", "user1", 10)
	go fnInc("msg", "user1", 10)
	go fnRead("msg", "user1", 10)
	go fnInc("join", "group1", 6)
	go fnInc("join", "group1", 6)
	go fnRead("join", "group1", 6)
	wg.Wait()

	c, err := cs.GetCount(ctx, "msg", "user1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(20, c)
	c, err = cs.GetWindowCount(ctx, "join", "group1", time.Minute)
	assert.NoError(err)
	assert.Equal(12, c)

	c, err = cs.GetCountDistinct(ctx, "msg", "msg", PeriodTotal)
	assert.NoError(err)
	assert.Equal(1, c)
}
