package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, string, map[string]any) error { return nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(TypeDocument, EventCreated, noopHandler))

	h, ok := reg.Lookup(TypeDocument, EventCreated)
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = reg.Lookup(TypeDocument, EventDeleted)
	assert.False(t, ok)
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()

	called := ""
	first := func(context.Context, string, map[string]any) error {
		called = "first"
		return nil
	}
	second := func(context.Context, string, map[string]any) error {
		called = "second"
		return nil
	}

	require.NoError(t, reg.Register(TypeDocument, EventCreated, first))

	err := reg.Register(TypeDocument, EventCreated, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateHandler)

	// The first registration stays active.
	h, ok := reg.Lookup(TypeDocument, EventCreated)
	require.True(t, ok)
	require.NoError(t, h(context.Background(), "univ-a", nil))
	assert.Equal(t, "first", called)
}

func TestRegistryNilHandler(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(TypeDocument, EventCreated, nil))
}

func TestRegistryMustRegister(t *testing.T) {
	reg := NewRegistry()

	// MustRegister hands the function back so one handler can serve
	// several event kinds.
	h := reg.MustRegister(TypeDocument, EventCreated, noopHandler)
	reg.MustRegister(TypeDocument, EventUpdated, h)
	assert.Equal(t, 2, reg.Len())

	assert.Panics(t, func() {
		reg.MustRegister(TypeDocument, EventCreated, noopHandler)
	})
}

func TestRegistryClear(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(TypeDocument, EventCreated, noopHandler)
	reg.Clear()

	assert.Equal(t, 0, reg.Len())
	_, ok := reg.Lookup(TypeDocument, EventCreated)
	assert.False(t, ok)

	// The slot is free again after a reset.
	assert.NoError(t, reg.Register(TypeDocument, EventCreated, noopHandler))
}

func TestRegistryConcurrentLookup(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(TypePerson, EventCreated, noopHandler)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, ok := reg.Lookup(TypePerson, EventCreated)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}

func TestHandlerKeyString(t *testing.T) {
	key := HandlerKey{Type: TypeDocument, Event: EventDeleted}
	assert.Equal(t, "document::deleted", key.String())
}
