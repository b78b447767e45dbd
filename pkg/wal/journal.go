/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
)

// Durability errors. These are fatal by default: a process that cannot
// journal must refuse to ack requests.
var (
	ErrDirInvalid   = errors.New("wal directory invalid")
	ErrAppendFailed = errors.New("wal append failed")
)

// SegmentPattern matches journal segment basenames.
const segmentGlob = "wal-*.ldjson"

// SegmentName builds the deterministic basename for a segment opened at t.
func SegmentName(t time.Time) string {
	return fmt.Sprintf("wal-%d.ldjson", t.UnixMilli())
}

// JournalOptions configures a Journal.
type JournalOptions struct {
	Dir string
	// FsyncEvery is the group-fsync cadence. Zero means fsync on every
	// append.
	FsyncEvery  time.Duration
	RotateBytes int64
	RotateAfter time.Duration
}

// Journal is the append-only segment store. A single Journal owns the
// active segment file descriptor; Append serializes all writes to it.
// On return from Append the bytes are durable up to the configured
// cadence (always, when FsyncEvery is zero).
type Journal struct {
	opts   JournalOptions
	logger *zap.Logger

	mu       sync.Mutex
	file     *os.File
	segment  string
	size     int64
	openedAt time.Time
	dirty    bool

	syncStop chan struct{}
	syncDone chan struct{}
}

// OpenJournal creates the WAL directory if needed and opens a fresh
// segment. When a group-fsync cadence is configured, a background task
// syncs on that cadence.
func OpenJournal(opts JournalOptions, logger *zap.Logger) (*Journal, error) {
	if !filepath.IsAbs(opts.Dir) {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrDirInvalid, opts.Dir)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirInvalid, err)
	}
	if opts.RotateBytes <= 0 {
		opts.RotateBytes = 64 << 20
	}
	if opts.RotateAfter <= 0 {
		opts.RotateAfter = time.Hour
	}

	j := &Journal{opts: opts, logger: logger}
	if err := j.openSegment(); err != nil {
		return nil, err
	}

	if opts.FsyncEvery > 0 {
		j.syncStop = make(chan struct{})
		j.syncDone = make(chan struct{})
		go j.syncLoop()
	}
	return j, nil
}

// Append writes one newline-terminated line to the active segment. The
// line must already be serialized; a missing trailing newline is added.
// Rotation thresholds are checked before the write so no line is ever
// split across segments.
func (j *Journal) Append(line []byte) error {
	if len(line) == 0 {
		return fmt.Errorf("%w: empty line", ErrAppendFailed)
	}
	if line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("%w: journal closed", ErrAppendFailed)
	}

	if j.size > 0 && (j.size+int64(len(line)) > j.opts.RotateBytes ||
		time.Since(j.openedAt) >= j.opts.RotateAfter) {
		if err := j.rotateLocked("threshold"); err != nil {
			return err
		}
	}

	n, err := j.file.Write(line)
	if err != nil {
		metrics.WalAppendFailuresTotal.Inc()
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	j.size += int64(n)

	if j.opts.FsyncEvery == 0 {
		if err := j.file.Sync(); err != nil {
			metrics.WalAppendFailuresTotal.Inc()
			return fmt.Errorf("%w: fsync: %v", ErrAppendFailed, err)
		}
	} else {
		j.dirty = true
	}
	metrics.WalAppendsTotal.Inc()
	return nil
}

// Rotate forces a segment rotation.
func (j *Journal) Rotate(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("%w: journal closed", ErrAppendFailed)
	}
	return j.rotateLocked(reason)
}

// Segment returns the basename of the active segment.
func (j *Journal) Segment() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.segment
}

// Close fsyncs and closes the active segment and stops the sync loop.
// Close is idempotent; later calls return nil.
func (j *Journal) Close() error {
	j.mu.Lock()
	stop := j.syncStop
	j.syncStop = nil
	j.mu.Unlock()
	if stop != nil {
		close(stop)
		<-j.syncDone
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Sync()
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	return err
}

// rotateLocked fsyncs and closes the active segment and opens a new one.
// Callers hold j.mu, so only one rotate runs at a time.
func (j *Journal) rotateLocked(reason string) error {
	old := j.segment
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync before rotate: %v", ErrAppendFailed, err)
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("%w: close before rotate: %v", ErrAppendFailed, err)
	}
	j.file = nil

	if err := j.openSegment(); err != nil {
		return err
	}
	metrics.WalSegmentRotationsTotal.Inc()
	if j.logger != nil {
		j.logger.Info("wal segment rotated",
			zap.String("from", old),
			zap.String("to", j.segment),
			zap.String("reason", reason))
	}
	return nil
}

func (j *Journal) openSegment() error {
	name := SegmentName(time.Now())
	// Same-millisecond rotation would reuse the name; bump until free.
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(j.opts.Dir, name)); os.IsNotExist(err) {
			break
		}
		name = SegmentName(time.Now().Add(time.Duration(i) * time.Millisecond))
	}

	f, err := os.OpenFile(filepath.Join(j.opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open segment: %v", ErrAppendFailed, err)
	}
	// Best-effort sync of the new inode so the name survives a crash.
	_ = f.Sync()

	j.file = f
	j.segment = name
	j.size = 0
	j.openedAt = time.Now()
	return nil
}

func (j *Journal) syncLoop() {
	defer close(j.syncDone)

	ticker := time.NewTicker(j.opts.FsyncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-j.syncStop:
			return
		case <-ticker.C:
			j.mu.Lock()
			if j.file != nil && j.dirty {
				if err := j.file.Sync(); err != nil && j.logger != nil {
					j.logger.Error("wal group fsync failed", zap.Error(err))
				} else {
					j.dirty = false
				}
			}
			j.mu.Unlock()
		}
	}
}

// ListSegments returns segment basenames in dir, lexicographically sorted.
// Segment names embed epoch millis, so lexicographic order is append
// order.
func ListSegments(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, segmentGlob))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	return names, nil
}
