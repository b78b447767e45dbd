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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
	"github.com/davidwdraper/EFFV2-sub000/pkg/s2s"
	"github.com/davidwdraper/EFFV2-sub000/pkg/wal"
)

func testBlob(rid, phase string) models.AuditBlob {
	return models.AuditBlob{
		Meta:  models.AuditMeta{Service: "orders", TS: time.Now().UnixMilli(), RequestID: rid},
		Phase: phase,
		Data:  map[string]interface{}{"status": 200},
	}
}

func TestRegistryBuildsReferenceWriters(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"db", "http", "mock"}, r.Names())

	w, err := r.Build("mock", Config{})
	require.NoError(t, err)
	assert.IsType(t, &MockWriter{}, w)

	_, err = r.Build("kafka", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown audit writer")
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()

	err := r.Register("mock", func(Config) (wal.Writer, error) {
		return NewMockWriter(), nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	require.NoError(t, r.Register("null", func(Config) (wal.Writer, error) {
		return NewMockWriter(), nil
	}))
	w, err := r.Build("null", Config{})
	require.NoError(t, err)
	assert.IsType(t, &MockWriter{}, w)
}

func TestDBWriterIdempotence(t *testing.T) {
	w, err := NewDBWriter(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer w.Close()

	batch := []models.AuditBlob{
		testBlob("r1", models.AuditPhaseBegin),
		testBlob("r1", models.AuditPhaseEnd),
		testBlob("r2", models.AuditPhaseBegin),
	}
	require.NoError(t, w.WriteBatch(context.Background(), batch))

	// Redelivery of the identical batch leaves the destination unchanged.
	require.NoError(t, w.WriteBatch(context.Background(), batch))

	n, err := w.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDBWriterEmptyBatch(t *testing.T) {
	w, err := NewDBWriter(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer w.Close()
	assert.NoError(t, w.WriteBatch(context.Background(), nil))
}

// stubCaller scripts s2s.Call outcomes.
type stubCaller struct {
	errs  []error
	calls int
}

func (c *stubCaller) Call(_ context.Context, _ s2s.CallParams, _ bool) (*s2s.CallResult, error) {
	var err error
	if c.calls < len(c.errs) {
		err = c.errs[c.calls]
	}
	c.calls++
	if err != nil {
		return nil, err
	}
	return &s2s.CallResult{Status: 200}, nil
}

func newHTTPWriter(t *testing.T, caller HTTPCaller) *HTTPWriter {
	t.Helper()
	w, err := NewHTTPWriter(Config{
		Caller:        caller,
		TargetSlug:    "audit",
		TargetVersion: 1,
		TargetPath:    "events/ingest",
	})
	require.NoError(t, err)
	w.backoff = time.Millisecond
	return w
}

func TestHTTPWriterRetriesTransientFailures(t *testing.T) {
	caller := &stubCaller{errs: []error{
		s2s.ErrUpstreamNetwork,
		&s2s.UpstreamError{Slug: "audit", MajorVersion: 1, Status: 503},
		nil,
	}}
	w := newHTTPWriter(t, caller)

	err := w.WriteBatch(context.Background(), []models.AuditBlob{testBlob("r1", models.AuditPhaseBegin)})
	require.NoError(t, err)
	assert.Equal(t, 3, caller.calls)
}

func TestHTTPWriter4xxIsPermanent(t *testing.T) {
	caller := &stubCaller{errs: []error{
		&s2s.UpstreamError{Slug: "audit", MajorVersion: 1, Status: 422},
	}}
	w := newHTTPWriter(t, caller)

	err := w.WriteBatch(context.Background(), []models.AuditBlob{testBlob("r1", models.AuditPhaseBegin)})
	require.Error(t, err)
	assert.Equal(t, 1, caller.calls)

	ue, ok := s2s.AsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, 422, ue.Status)
}

func TestHTTPWriterGivesUpAfterAttempts(t *testing.T) {
	caller := &stubCaller{errs: []error{
		errors.New("dial failed"),
		errors.New("dial failed"),
		errors.New("dial failed"),
	}}
	w := newHTTPWriter(t, caller)

	err := w.WriteBatch(context.Background(), []models.AuditBlob{testBlob("r1", models.AuditPhaseBegin)})
	require.Error(t, err)
	assert.Equal(t, httpWriterAttempts, caller.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestMockWriterRecords(t *testing.T) {
	w := NewMockWriter()
	require.NoError(t, w.WriteBatch(context.Background(), []models.AuditBlob{
		testBlob("r1", models.AuditPhaseBegin),
	}))
	require.Len(t, w.Blobs(), 1)
	assert.Equal(t, "r1", w.Blobs()[0].Meta.RequestID)

	w.Fail = errors.New("down")
	assert.Error(t, w.WriteBatch(context.Background(), nil))
}
