package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/chatrelay/internal/logger"
)

func testLogger() *logger.Logger {
	log, _ := logger.New(logger.LevelNone, "", "")
	return log
}

func TestRegistryRejectsDuplicateSession(t *testing.T) {
	reg := NewRegistry(testLogger())
	sink := &captureSink{}

	require.NoError(t, reg.RegisterConn("s1", sink))
	err := reg.RegisterConn("s1", &captureSink{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "already has a live connection")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryStopTaskLifecycle(t *testing.T) {
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.RegisterConn("s1", &captureSink{}))

	assert.Nil(t, reg.StopTask("s1"), "no task attached yet")

	ctx, cancel := context.WithCancel(context.Background())
	task := NewTask(cancel)
	require.True(t, reg.SetTask("s1", task))

	stopped := reg.StopTask("s1")
	require.NotNil(t, stopped)
	assert.Same(t, task, stopped)
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected stop to cancel the task context")
	}

	// A second stop is harmless but reports nothing live once finished.
	task.Finish()
	assert.Nil(t, reg.StopTask("s1"))
	assert.Nil(t, reg.StopTask("unknown"))
}

func TestRegistryUnregisterCancelsLiveTask(t *testing.T) {
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.RegisterConn("s1", &captureSink{}))

	ctx, cancel := context.WithCancel(context.Background())
	task := NewTask(cancel)
	require.True(t, reg.SetTask("s1", task))

	reg.UnregisterConn("s1")
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected unregister to cancel the running task")
	}

	// The id is free again.
	require.NoError(t, reg.RegisterConn("s1", &captureSink{}))
}

func TestRegistrySetTaskUnknownSession(t *testing.T) {
	reg := NewRegistry(testLogger())

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.False(t, reg.SetTask("ghost", NewTask(cancel)))
}

func TestRegistrySinkLookup(t *testing.T) {
	reg := NewRegistry(testLogger())
	sink := &captureSink{}
	require.NoError(t, reg.RegisterConn("s1", sink))

	got, ok := reg.Sink("s1")
	require.True(t, ok)
	assert.Same(t, sink, got.(*captureSink))

	_, ok = reg.Sink("s2")
	assert.False(t, ok)

	reg.UnregisterConn("s1")
	_, ok = reg.Sink("s1")
	assert.False(t, ok)
}
