package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct{ id int }

func TestRegisterUnregister(t *testing.T) {
	r := New[*fakeClient]()
	c := &fakeClient{id: 1}

	r.Register(c)
	require.Equal(t, 1, r.Len())

	r.Unregister(c)
	require.Equal(t, 0, r.Len())

	var seen []*fakeClient
	r.ForEach(func(client *fakeClient) { seen = append(seen, client) })
	require.Empty(t, seen)
}

func TestForEachIsAtomicWithRegisterUnregister(t *testing.T) {
	r := New[*fakeClient]()
	const n = 100

	clients := make([]*fakeClient, n)
	for i := range clients {
		clients[i] = &fakeClient{id: i}
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *fakeClient) {
			defer wg.Done()
			r.Register(c)
			r.Unregister(c)
		}(c)
	}

	// While registrations race, every ForEach call must run to
	// completion without panicking; run under -race, this also catches
	// any unsynchronized access to the client slice.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			count := 0
			r.ForEach(func(*fakeClient) { count++ })
			require.GreaterOrEqual(t, count, 0)
		}
	}()

	wg.Wait()
	<-done
	require.Equal(t, 0, r.Len())
}

func TestUnregisterMissingIsNoop(t *testing.T) {
	r := New[*fakeClient]()
	r.Unregister(&fakeClient{id: 99})
	require.Equal(t, 0, r.Len())
}
