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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// QuarantineDir is the subdirectory segments are moved into when they
// violate the entry contract.
const QuarantineDir = "quarantine"

// maxBackoffTicks caps writer-failure backoff at this multiple of the base
// tick.
const maxBackoffTicks = 64

// ReplayerOptions configures a Replayer.
type ReplayerOptions struct {
	Dir        string
	CursorPath string
	BatchLines int
	BatchBytes int
	Tick       time.Duration
}

// quarantineReason is the sidecar document written next to a quarantined
// segment.
type quarantineReason struct {
	Code   string `json:"code"`
	AtLine int    `json:"atLine"`
	Detail string `json:"detail"`
}

// Replayer scans WAL segments and delivers validated batches to a writer
// with an atomic durable cursor. Delivery is at-least-once; the only way a
// line is skipped is operator-visible quarantine of its segment.
type Replayer struct {
	opts   ReplayerOptions
	writer Writer
	logger *zap.Logger

	startStopMutex sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
}

// NewReplayer creates a Replayer.
func NewReplayer(opts ReplayerOptions, writer Writer, logger *zap.Logger) (*Replayer, error) {
	if !filepath.IsAbs(opts.Dir) {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrDirInvalid, opts.Dir)
	}
	if opts.BatchLines <= 0 {
		opts.BatchLines = 500
	}
	if opts.BatchBytes <= 0 {
		opts.BatchBytes = 1 << 20
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	return &Replayer{opts: opts, writer: writer, logger: logger}, nil
}

// Start launches the background replay loop.
func (r *Replayer) Start(ctx context.Context) {
	r.startStopMutex.Lock()
	defer r.startStopMutex.Unlock()
	if r.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.run(runCtx)
}

// Stop halts the loop. An in-flight batch commit completes before Stop
// returns.
func (r *Replayer) Stop() {
	r.startStopMutex.Lock()
	defer r.startStopMutex.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	<-r.done
	r.running = false
}

func (r *Replayer) run(ctx context.Context) {
	defer close(r.done)

	attempt := 0
	for {
		progressed, err := r.TickOnce(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			attempt++
			wait = backoffDelay(r.opts.Tick, attempt)
			metrics.WalReplayBackoffsTotal.Inc()
			r.logger.Warn("wal replay delivery failed",
				zap.Error(err),
				zap.Duration("backoff", wait))
		case progressed:
			// Keep draining while there is work.
			attempt = 0
			continue
		default:
			attempt = 0
			wait = r.opts.Tick
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// TickOnce performs one replay step: pick the cursor segment, read one
// batch, validate, deliver, advance the cursor. It returns whether any
// progress was made. Writer failures return an error and leave the cursor
// untouched.
func (r *Replayer) TickOnce(ctx context.Context) (bool, error) {
	segments, err := ListSegments(r.opts.Dir)
	if err != nil {
		return false, err
	}
	if len(segments) == 0 {
		return false, nil
	}

	cursor, err := LoadCursor(r.opts.CursorPath)
	if err != nil {
		return false, err
	}
	if cursor.File == "" || !contains(segments, cursor.File) {
		cursor = models.Cursor{File: segments[0], Offset: 0}
	}

	path := filepath.Join(r.opts.Dir, cursor.File)
	info, err := os.Stat(path)
	if err != nil {
		// Raced with quarantine or operator removal; re-list next tick.
		return false, nil
	}

	if cursor.Offset >= info.Size() {
		next, ok := nextSegment(segments, cursor.File)
		if !ok {
			return false, nil
		}
		cursor = models.Cursor{File: next, Offset: 0}
		if err := SaveCursor(r.opts.CursorPath, cursor); err != nil {
			return false, err
		}
		return true, nil
	}

	lines, consumed, err := r.readBatch(path, cursor.Offset)
	if err != nil {
		return false, err
	}
	if len(lines) == 0 {
		// Only a torn trailing line so far; it completes on a later tick.
		return false, nil
	}

	blobs := make([]models.AuditBlob, 0, len(lines))
	for i, line := range lines {
		if err := ValidateLine(line); err != nil {
			return true, r.quarantine(cursor.File, i, err)
		}
		var wl models.WalLine
		if err := json.Unmarshal(line, &wl); err != nil {
			return true, r.quarantine(cursor.File, i, err)
		}
		blobs = append(blobs, wl.Blob)
	}

	if err := r.writer.WriteBatch(ctx, blobs); err != nil {
		return false, fmt.Errorf("write batch (file=%s offset=%d count=%d): %w",
			cursor.File, cursor.Offset, len(blobs), err)
	}

	cursor.Offset += consumed
	if err := SaveCursor(r.opts.CursorPath, cursor); err != nil {
		return false, err
	}
	metrics.WalReplayDeliveredTotal.Add(float64(len(blobs)))
	return true, nil
}

// readBatch reads complete lines starting at offset, bounded by the batch
// byte and line limits. A torn trailing line is left for a later tick.
func (r *Replayer) readBatch(path string, offset int64) ([][]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	buf := make([]byte, r.opts.BatchBytes)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	buf = buf[:n]

	var lines [][]byte
	var consumed int64
	for len(lines) < r.opts.BatchLines {
		idx := bytes.IndexByte(buf[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := buf[consumed : consumed+int64(idx)]
		lines = append(lines, line)
		consumed += int64(idx) + 1
	}

	// A full window with no newline is a single line larger than the batch
	// byte limit, not a torn tail. It must still be delivered or replay
	// stalls forever at this offset.
	if len(lines) == 0 && n == r.opts.BatchBytes {
		return r.readLongLine(f, offset)
	}
	return lines, consumed, nil
}

// readLongLine reads one line that exceeds BatchBytes, growing the window
// until its newline appears. A giant line that is still torn at EOF is
// left for a later tick like any other torn tail.
func (r *Replayer) readLongLine(f *os.File, offset int64) ([][]byte, int64, error) {
	size := 2 * r.opts.BatchBytes
	for {
		buf := make([]byte, size)
		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return nil, 0, err
		}
		buf = buf[:n]

		if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
			return [][]byte{buf[:idx]}, int64(idx) + 1, nil
		}
		if err == io.EOF {
			return nil, 0, nil
		}
		size *= 2
	}
}

// quarantine moves the segment out of the replay path and records why.
// The cursor is left pointing at the now-missing file; the next tick
// resets it, which preserves at-least-once delivery.
func (r *Replayer) quarantine(segment string, atLine int, cause error) error {
	qdir := filepath.Join(r.opts.Dir, QuarantineDir)
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return err
	}
	if err := os.Rename(filepath.Join(r.opts.Dir, segment), filepath.Join(qdir, segment)); err != nil {
		return err
	}

	reason, err := json.Marshal(quarantineReason{
		Code:   EntryContractCode,
		AtLine: atLine,
		Detail: cause.Error(),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(qdir, segment+".reason.json"), reason, 0o644); err != nil {
		return err
	}

	metrics.WalQuarantinedSegmentsTotal.Inc()
	r.logger.Error("wal segment quarantined",
		zap.String("segment", segment),
		zap.Int("atLine", atLine),
		zap.Error(cause))
	return nil
}

// backoffDelay grows exponentially with attempt, capped at 64x the base
// tick, with 25% jitter.
func backoffDelay(tick time.Duration, attempt int) time.Duration {
	mult := int64(1) << uint(attempt)
	if mult > maxBackoffTicks {
		mult = maxBackoffTicks
	}
	base := tick * time.Duration(mult)
	jitter := time.Duration(rand.Int63n(int64(base)/2+1)) - base/4
	return base + jitter
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func nextSegment(segments []string, current string) (string, bool) {
	for i, s := range segments {
		if s == current && i+1 < len(segments) {
			return segments[i+1], true
		}
	}
	return "", false
}
