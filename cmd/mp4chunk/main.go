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

// mp4chunk concatenates runs of contiguous MP4 samples ("chunks") from one
// or more source files into a destination file, in place when the
// destination has room and via a full rewrite otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"mp4chunk/internal/pathspec"
	"mp4chunk/pkg/chunk"
	"mp4chunk/pkg/config"
	"mp4chunk/pkg/history"
	mp4log "mp4chunk/pkg/log"
	"mp4chunk/pkg/splice"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(fmt.Errorf("mp4chunk: %w", err))
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath(), "path to mp4chunk config yaml")
	futureFrames := flag.Int("future_frames", 0, "override the configured future_frames estimate (0 keeps the config default)")
	dumpFrames := flag.Bool("dump_frames", false, "print chunk and per-sample hex dumps for a single input, then exit")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		return fmt.Errorf("usage: mp4chunk [flags] destination[[start:end]] [source[[start:end]]...]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *futureFrames > 0 {
		cfg.FutureFrames = *futureFrames
	}

	if *dumpFrames {
		if len(args) != 1 {
			return fmt.Errorf("--dump_frames takes exactly one file argument, got %d", len(args))
		}
		return runDumpFrames(args[0])
	}

	specs := make([]pathspec.Spec, len(args))
	for i, a := range args {
		specs[i], err = pathspec.Parse(a)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}

	logger := mp4log.NewLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger.Start(ctx)
	go logger.LogToStdout(ctx)

	var hist *history.DB
	if cfg.HistoryDBPath != "" {
		hist, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			logger.Warn().Src("history").Msgf("history disabled: %v", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	return splice.Append(specs[0], specs[1:], cfg, logger, hist)
}

// runDumpFrames implements --dump_frames: it never mutates its input, only
// reads and prints chunk structure.
func runDumpFrames(arg string) error {
	spec, err := pathspec.Parse(arg)
	if err != nil {
		return err
	}
	src, err := chunk.Open(spec.Path, false)
	if err != nil {
		return err
	}
	defer src.Close()

	chunks, err := chunk.ChunksOf(src)
	if err != nil {
		return err
	}
	start, end := spec.Resolve(len(chunks))
	for _, c := range chunks[start:end] {
		if err := c.Dump(os.Stdout); err != nil {
			return err
		}
	}
	return nil
}

// defaultConfigPath mirrors the teacher's fixed default-path convention
// in start/start.go, scoped to the invoking user's config directory
// instead of a single-tenant NVR install.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir + "/mp4chunk/config.yaml"
}
