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

// Package log is a small leveled, structured logger used by the splice
// engine and the CLI front-end to narrate what an append or rewrite did.
package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg's -loglevel scale so the splice
// engine's own log lines sit at the same granularity as the ffmpeg output
// users of this tool are already reading.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// UnixMillisecond is a log timestamp.
type UnixMillisecond uint64

// Event is a log entry under construction. Call Msg or Msgf to send it.
type Event struct {
	level Level
	time  UnixMillisecond
	src   string // e.g. "splice", "rewrite"
	file  string // destination path the event concerns

	logger *Logger
}

// Log is a log entry as delivered to subscribers.
type Log struct {
	Level Level
	Time  UnixMillisecond
	Msg   string
	Src   string
	File  string
}

// Src sets the event's subsystem.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// File sets the event's destination file.
func (e *Event) File(path string) *Event {
	e.file = path
	return e
}

// Msg sends the event with msg as its message.
func (e *Event) Msg(msg string) {
	e.logger.feed <- Log{
		Time:  e.time,
		Level: e.level,
		Msg:   msg,
		Src:   e.src,
		File:  e.file,
	}
}

// Msgf sends the event with a formatted message.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed is a read-only view of a log stream.
type Feed <-chan Log
type logFeed chan Log

// Logger fans out log events to any number of subscribers. A single
// process-lifetime Logger is shared by the splice driver and the CLI's own
// stdout printer.
type Logger struct {
	feed  logFeed
	sub   chan logFeed
	unsub chan logFeed

	wg *sync.WaitGroup
}

// NewLogger returns a Logger. Call Start to begin fanning out events.
func NewLogger() *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		wg:    &sync.WaitGroup{},
	}
}

// Start runs the fan-out loop until ctx is canceled.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return
			case ch := <-l.sub:
				subs[ch] = struct{}{}
			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)
			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
}

// CancelFunc cancels a log feed subscription.
type CancelFunc func()

// Subscribe returns a new feed and a CancelFunc to stop receiving on it.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	l.sub <- feed
	return feed, func() { l.unSubscribe(feed) }
}

func (l *Logger) unSubscribe(feed logFeed) {
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		}
	}
}

// LogToStdout prints every event on the feed to stdout until ctx is
// canceled. The CLI uses this as its sole sink; there is no persistent
// store of general log lines (see pkg/history for the append/rewrite
// audit trail, which is queried rather than only tailed).
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry := <-feed:
			fmt.Fprintln(os.Stdout, formatLog(entry))
		case <-ctx.Done():
			return
		}
	}
}

func formatLog(l Log) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", l.Level)
	if l.Src != "" {
		fmt.Fprintf(&b, "%s: ", l.Src)
	}
	if l.File != "" {
		fmt.Fprintf(&b, "%s: ", l.File)
	}
	b.WriteString(l.Msg)
	return b.String()
}

// Error starts a new error-level event.
func (l *Logger) Error() *Event { return l.newEvent(LevelError) }

// Warn starts a new warning-level event.
func (l *Logger) Warn() *Event { return l.newEvent(LevelWarning) }

// Info starts a new info-level event.
func (l *Logger) Info() *Event { return l.newEvent(LevelInfo) }

// Debug starts a new debug-level event.
func (l *Logger) Debug() *Event { return l.newEvent(LevelDebug) }

func (l *Logger) newEvent(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMillisecond(time.Now().UnixMilli()),
		logger: l,
	}
}
