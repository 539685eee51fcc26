package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBusDeliversInOrder(t *testing.T) {
	router := NewRouter(zap.NewNop())
	var got []string
	router.Register(KeyJobEnqueued, func(_ context.Context, raw json.RawMessage) error {
		evt, err := Decode[JobEnqueued](raw)
		require.NoError(t, err)
		got = append(got, "first:"+evt.LetterID)
		return nil
	})
	router.Register(KeyJobEnqueued, func(context.Context, json.RawMessage) error {
		got = append(got, "second")
		return nil
	})

	bus := NewLocalBus(router, nil)
	err := bus.Publish(context.Background(), KeyJobEnqueued, JobEnqueued{EventID: NewID(), LetterID: "jane-equifax-20250610-100509"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first:jane-equifax-20250610-100509", "second"}, got)
}

func TestLocalBusReturnsHandlerError(t *testing.T) {
	router := NewRouter(nil)
	boom := errors.New("boom")
	router.Register(KeyGenerationRecorded, func(context.Context, json.RawMessage) error { return boom })

	err := NewLocalBus(router, nil).Publish(context.Background(), KeyGenerationRecorded, GenerationRecorded{})
	assert.ErrorIs(t, err, boom)
}

func TestRouterRecoversPanicsAndIgnoresUnknownKeys(t *testing.T) {
	router := NewRouter(nil)
	router.Register("explode", func(context.Context, json.RawMessage) error { panic("nil map") })

	assert.Error(t, router.Handle(context.Background(), "explode", json.RawMessage(`{}`)))
	assert.NoError(t, router.Handle(context.Background(), "nobody.listens", json.RawMessage(`{}`)))
	assert.Equal(t, []string{"explode"}, router.Keys())
}

func TestNewIDUnique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}
