package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/board-archiver/internal/progress"
)

func TestLogSinkWritesDebugEntries(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	batch := []progress.Event{
		{RunID: [16]byte{1}, TS: time.Now(), Stage: progress.StageThreadArchived, Board: "g", Threads: 1, Posts: 3},
		{RunID: [16]byte{1}, TS: time.Now(), Stage: progress.StageFetchDone, URL: "u", Outcome: "transient", Note: "boom"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 2, logs.Len())

	first := logs.All()[0].ContextMap()
	assert.Equal(t, "g", first["board"])
	assert.EqualValues(t, 3, first["posts"])
	second := logs.All()[1].ContextMap()
	assert.Equal(t, "transient", second["outcome"])
	assert.Equal(t, "boom", second["note"])
}

func TestLogSinkSkipsWhenDebugDisabled(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageCycleDone}}))
	assert.Zero(t, logs.Len())
	require.NoError(t, sink.Close(context.Background()))
}
