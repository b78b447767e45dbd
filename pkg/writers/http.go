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

package writers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
	"github.com/davidwdraper/EFFV2-sub000/pkg/s2s"
)

// HTTPCaller executes outbound fabric calls. *s2s.Client satisfies it.
type HTTPCaller interface {
	Call(ctx context.Context, params s2s.CallParams, expectJSON bool) (*s2s.CallResult, error)
}

// httpWriterAttempts bounds delivery attempts per batch; retries use a
// fixed backoff because the replayer already applies exponential backoff
// around the whole batch.
const (
	httpWriterAttempts = 3
	httpWriterBackoff  = 500 * time.Millisecond
)

// HTTPWriter POSTs audit batches to an ingestion endpoint over the S2S
// fabric. 5xx and transport errors are retried; 4xx is permanent and
// surfaces immediately.
type HTTPWriter struct {
	caller        HTTPCaller
	targetSlug    string
	targetVersion int
	targetPath    string
	backoff       time.Duration
}

// NewHTTPWriter creates an HTTPWriter from bootstrap config.
func NewHTTPWriter(cfg Config) (*HTTPWriter, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("http writer requires an s2s caller")
	}
	if cfg.TargetSlug == "" || cfg.TargetPath == "" {
		return nil, fmt.Errorf("http writer requires a target slug and path")
	}
	version := cfg.TargetVersion
	if version < 1 {
		version = 1
	}
	return &HTTPWriter{
		caller:        cfg.Caller,
		targetSlug:    cfg.TargetSlug,
		targetVersion: version,
		targetPath:    cfg.TargetPath,
		backoff:       httpWriterBackoff,
	}, nil
}

type ingestRequest struct {
	Events []models.AuditBlob `json:"events"`
}

// WriteBatch delivers the batch, retrying transient failures.
func (w *HTTPWriter) WriteBatch(ctx context.Context, blobs []models.AuditBlob) error {
	body, err := json.Marshal(ingestRequest{Events: blobs})
	if err != nil {
		return fmt.Errorf("serialize audit batch: %w", err)
	}

	params := s2s.CallParams{
		Slug:      w.targetSlug,
		Version:   w.targetVersion,
		Method:    "POST",
		Path:      w.targetPath,
		Body:      body,
		RequestID: uuid.NewString(),
	}

	var lastErr error
	for attempt := 0; attempt < httpWriterAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff):
			}
		}

		_, err := w.caller.Call(ctx, params, false)
		if err == nil {
			return nil
		}
		if ue, ok := s2s.AsUpstreamError(err); ok && ue.Status >= 400 && ue.Status < 500 {
			// Permanent: the ingestion endpoint rejected the batch.
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("audit ingestion failed after %d attempts: %w", httpWriterAttempts, lastErr)
}
