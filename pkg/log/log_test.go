// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (context.Context, *Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := NewLogger()
	logger.Start(ctx)
	return ctx, logger
}

func TestLoggerSubscribe(t *testing.T) {
	_, logger := newTestLogger(t)

	feed, cancel := logger.Subscribe()
	defer cancel()

	logger.Info().Src("splice").File("a.mp4").Msg("appended 3 chunks")

	entry := <-feed
	require.Equal(t, LevelInfo, entry.Level)
	require.Equal(t, "splice", entry.Src)
	require.Equal(t, "a.mp4", entry.File)
	require.Equal(t, "appended 3 chunks", entry.Msg)
}

func TestLoggerMsgf(t *testing.T) {
	_, logger := newTestLogger(t)

	feed, cancel := logger.Subscribe()
	defer cancel()

	logger.Warn().Src("rewrite").Msgf("rewriting with %d bytes free", 4096)

	entry := <-feed
	require.Equal(t, LevelWarning, entry.Level)
	require.Equal(t, "rewriting with 4096 bytes free", entry.Msg)
}

func TestLoggerUnsubscribeStopsDelivery(t *testing.T) {
	_, logger := newTestLogger(t)

	feed1, cancel1 := logger.Subscribe()
	defer cancel1()
	feed2, cancel2 := logger.Subscribe()
	cancel2()

	logger.Info().Msg("hello")

	select {
	case entry := <-feed1:
		require.Equal(t, "hello", entry.Msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed1")
	}

	_, ok := <-feed2
	require.False(t, ok, "feed2 should be closed after unsubscribe")
}

func TestFormatLog(t *testing.T) {
	got := formatLog(Log{Level: LevelError, Src: "splice", File: "a.mp4", Msg: "boom"})
	require.Equal(t, "[ERROR] splice: a.mp4: boom", got)
}
