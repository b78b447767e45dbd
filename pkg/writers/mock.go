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
	"sync"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// MockWriter accepts everything and remembers it. Used in tests and as a
// no-op destination in development.
type MockWriter struct {
	mu    sync.Mutex
	blobs []models.AuditBlob
	// Fail, when set, makes WriteBatch return this error.
	Fail error
}

// NewMockWriter creates a MockWriter.
func NewMockWriter() *MockWriter {
	return &MockWriter{}
}

// WriteBatch records the batch.
func (w *MockWriter) WriteBatch(_ context.Context, blobs []models.AuditBlob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return w.Fail
	}
	w.blobs = append(w.blobs, blobs...)
	return nil
}

// Blobs returns a copy of everything accepted so far.
func (w *MockWriter) Blobs() []models.AuditBlob {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.AuditBlob, len(w.blobs))
	copy(out, w.blobs)
	return out
}
