package bufferqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func destructorCounter() (Destructor, func() []interface{}) {
	var mu sync.Mutex
	var destroyed []interface{}
	return func(payload interface{}) {
			mu.Lock()
			defer mu.Unlock()
			destroyed = append(destroyed, payload)
		}, func() []interface{} {
			mu.Lock()
			defer mu.Unlock()
			out := make([]interface{}, len(destroyed))
			copy(out, destroyed)
			return out
		}
}

// S1: single consumer catch-up.
func TestSingleConsumerCatchUp(t *testing.T) {
	destroy, destroyed := destructorCounter()
	p := NewProducer(destroy, nil)

	require.NoError(t, p.Put("a"))
	require.NoError(t, p.Put("b"))
	require.NoError(t, p.Put("c"))

	c := NewConsumer(p, nil)
	require.Equal(t, 0, c.Unseen())

	_, ok := c.Get()
	require.False(t, ok)

	require.NoError(t, p.Put("d"))
	require.Equal(t, 1, c.Unseen())

	payload, ok := c.Get()
	require.True(t, ok)
	require.Equal(t, "d", payload)

	require.False(t, c.Move())

	_, ok = c.Get()
	require.False(t, ok)
	// a, b and c had no consumer to see them and were released at Put;
	// d is released once the only consumer moves past it.
	require.ElementsMatch(t, []interface{}{"a", "b", "c", "d"}, destroyed())
}

// S2: two consumers advancing at different paces.
func TestTwoConsumersDifferentPace(t *testing.T) {
	destroy, destroyed := destructorCounter()
	p := NewProducer(destroy, nil)

	c1 := NewConsumer(p, nil)
	c2 := NewConsumer(p, nil)

	require.NoError(t, p.Put("a"))
	require.NoError(t, p.Put("b"))

	advance := func(c *Consumer) interface{} {
		v, ok := c.Get()
		require.True(t, ok)
		c.Move()
		return v
	}

	require.Equal(t, "a", advance(c1))
	require.Equal(t, "b", advance(c1))
	require.Empty(t, destroyed())

	require.Equal(t, "a", advance(c2))
	require.ElementsMatch(t, []interface{}{"a"}, destroyed())

	require.Equal(t, "b", advance(c2))
	require.ElementsMatch(t, []interface{}{"a", "b"}, destroyed())
}

// S3: freeing a consumer with arrears still defers destructors until
// the remaining consumer catches up.
func TestFreeWithArrears(t *testing.T) {
	destroy, destroyed := destructorCounter()
	p := NewProducer(destroy, nil)

	c1 := NewConsumer(p, nil)
	c2 := NewConsumer(p, nil)

	require.NoError(t, p.Put("a"))
	require.NoError(t, p.Put("b"))

	c2.Free()
	require.Empty(t, destroyed())

	_, ok := c1.Get()
	require.True(t, ok)
	c1.Move()
	c1.Move()
	require.ElementsMatch(t, []interface{}{"a", "b"}, destroyed())
}

func TestConsumerAttachedAfterPutsOnlySeesLater(t *testing.T) {
	destroy, _ := destructorCounter()
	p := NewProducer(destroy, nil)

	require.NoError(t, p.Put("a"))
	require.NoError(t, p.Put("b"))

	c := NewConsumer(p, nil)
	require.NoError(t, p.Put("c"))

	v, ok := c.Get()
	require.True(t, ok)
	require.Equal(t, "c", v)
}

func TestUnseenMonotonicity(t *testing.T) {
	destroy, _ := destructorCounter()
	p := NewProducer(destroy, nil)
	c := NewConsumer(p, nil)

	require.NoError(t, p.Put("a"))
	require.Equal(t, 1, c.Unseen())
	require.NoError(t, p.Put("b"))
	require.Equal(t, 2, c.Unseen())

	c.Move()
	require.Equal(t, 1, c.Unseen())
	c.Move()
	require.Equal(t, 0, c.Unseen())
}

func TestPutWithNoConsumersDestroysImmediately(t *testing.T) {
	destroy, destroyed := destructorCounter()
	p := NewProducer(destroy, nil)

	require.NoError(t, p.Put("lonely"))
	require.ElementsMatch(t, []interface{}{"lonely"}, destroyed())
}

// Freeing the last consumer that owes an element releases it; a later
// Unref must not release it a second time.
func TestFreeingLastConsumerReleasesOutstandingElementsOnce(t *testing.T) {
	destroy, destroyed := destructorCounter()
	p := NewProducer(destroy, nil)

	c := NewConsumer(p, nil)
	require.NoError(t, p.Put("a"))
	c.Free()

	require.ElementsMatch(t, []interface{}{"a"}, destroyed())
	p.Unref()
	require.ElementsMatch(t, []interface{}{"a"}, destroyed())
}

func TestPutAfterUnrefFails(t *testing.T) {
	destroy, _ := destructorCounter()
	p := NewProducer(destroy, nil)
	p.Unref()

	require.ErrorIs(t, p.Put("late"), ErrClosed)
}

func TestGetWaitUnblocksOnPutAndOnClose(t *testing.T) {
	destroy, _ := destructorCounter()
	p := NewProducer(destroy, nil)
	c := NewConsumer(p, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, p.Put("woken"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, ok := c.GetWait(ctx)
	require.True(t, ok)
	require.Equal(t, "woken", v)

	c.Move()
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Unref()
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	_, ok = c.GetWait(ctx2)
	require.False(t, ok)
	require.True(t, c.Closed())
}

// Property 4 (restricted form): concurrent consumers of a single
// producer observe the same put-ordered sequence.
func TestConcurrentConsumersObserveSameOrder(t *testing.T) {
	destroy, _ := destructorCounter()
	p := NewProducer(destroy, nil)

	const n = 200
	const numConsumers = 8

	consumers := make([]*Consumer, numConsumers)
	for i := range consumers {
		consumers[i] = NewConsumer(p, nil)
	}

	var wg sync.WaitGroup
	results := make([][]int, numConsumers)
	for i, c := range consumers {
		wg.Add(1)
		go func(i int, c *Consumer) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var got []int
			for len(got) < n {
				v, ok := c.GetWait(ctx)
				if !ok {
					if c.Closed() {
						break
					}
					continue
				}
				got = append(got, v.(int))
				c.Move()
			}
			results[i] = got
		}(i, c)
	}

	for i := 0; i < n; i++ {
		require.NoError(t, p.Put(i))
	}
	p.Unref()
	wg.Wait()

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	for i, got := range results {
		require.Equal(t, want, got, "consumer %d", i)
	}
}
