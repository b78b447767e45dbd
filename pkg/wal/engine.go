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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// ErrSerializeFailed indicates an audit blob could not be serialized to a
// WAL line.
var ErrSerializeFailed = errors.New("wal serialize failed")

// FlushResult reports what one Flush call did.
type FlushResult struct {
	Accepted int
}

// Engine accepts audit blobs, journals each durably, and buffers a copy in
// memory for batch delivery to a writer. Journal failure means the blob
// was NOT accepted; callers must not ack work the engine refused.
type Engine struct {
	journal *Journal
	writer  Writer
	logger  *zap.Logger

	mu       sync.Mutex
	queue    []models.AuditBlob
	flushing atomic.Bool
}

// NewEngine creates an Engine over an open journal.
func NewEngine(journal *Journal, writer Writer, logger *zap.Logger) *Engine {
	return &Engine{journal: journal, writer: writer, logger: logger}
}

// Append validates, serializes, and durably journals one blob, then
// enqueues it for the next flush. The enqueue happens only after the
// journal accepted the bytes.
func (e *Engine) Append(blob models.AuditBlob) error {
	if err := ValidateBlob(blob); err != nil {
		return err
	}

	line, err := json.Marshal(models.WalLine{
		AppendedAt: time.Now().UnixMilli(),
		Blob:       blob,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	if err := e.journal.Append(line); err != nil {
		return err
	}

	e.mu.Lock()
	e.queue = append(e.queue, blob)
	e.mu.Unlock()
	return nil
}

// AppendBatch appends blobs sequentially. A failure at index i aborts the
// rest; the returned count is how many were accepted.
func (e *Engine) AppendBatch(blobs []models.AuditBlob) (int, error) {
	for i, blob := range blobs {
		if err := e.Append(blob); err != nil {
			return i, fmt.Errorf("batch append failed at index %d: %w", i, err)
		}
	}
	return len(blobs), nil
}

// QueueLen returns the number of buffered blobs awaiting flush.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Flush hands the buffered queue to the writer. At most one flush runs at
// a time; a reentrant call returns immediately with Accepted 0. On writer
// success exactly the snapshot length is removed from the queue front;
// blobs appended during the flush stay queued.
func (e *Engine) Flush(ctx context.Context) (FlushResult, error) {
	if !e.flushing.CompareAndSwap(false, true) {
		return FlushResult{}, nil
	}
	defer e.flushing.Store(false)

	e.mu.Lock()
	snapshot := make([]models.AuditBlob, len(e.queue))
	copy(snapshot, e.queue)
	e.mu.Unlock()

	if len(snapshot) == 0 {
		return FlushResult{}, nil
	}

	if err := e.writer.WriteBatch(ctx, snapshot); err != nil {
		return FlushResult{}, fmt.Errorf("flush of %d blobs failed: %w", len(snapshot), err)
	}

	e.mu.Lock()
	e.queue = e.queue[len(snapshot):]
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Debug("wal flush delivered", zap.Int("blobs", len(snapshot)))
	}
	return FlushResult{Accepted: len(snapshot)}, nil
}
