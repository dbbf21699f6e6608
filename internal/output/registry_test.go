package output

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func ids(list []Output) []ID {
	out := make([]ID, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}

func TestRegistryKeepsAdvertisementOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Output{ID: 3}, Output{ID: 1})
	require.True(t, r.Add(Output{ID: 2}))
	require.Equal(t, []ID{3, 1, 2}, ids(r.List()))

	_, ok := r.Remove(1)
	require.True(t, ok)
	require.Equal(t, []ID{3, 2}, ids(r.List()))
	require.Equal(t, 2, r.Len())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.True(t, r.Add(Output{ID: 7, Handle: "first"}))
	require.False(t, r.Add(Output{ID: 7, Handle: "second"}))

	o, ok := r.Get(7)
	require.True(t, ok)
	require.Equal(t, "first", o.Handle)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Output{ID: 1})
	_, ok := r.Remove(1)
	require.True(t, ok)
	_, ok = r.Remove(1)
	require.False(t, ok)
	require.False(t, r.Contains(1))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id ID) {
			defer wg.Done()
			r.Add(Output{ID: id})
			_ = r.List()
			if id%2 == 0 {
				r.Remove(id)
			}
		}(ID(i))
	}
	wg.Wait()
	require.Equal(t, 16, r.Len())
}

func TestIDString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "output-42", ID(42).String())
}
