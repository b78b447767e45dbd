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

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// auditSchema pairs each event to its request by (request_id, phase); the
// unique index makes redelivered batches idempotent.
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	service TEXT NOT NULL,
	ts INTEGER NOT NULL,
	data TEXT,
	UNIQUE(request_id, phase)
);
CREATE INDEX IF NOT EXISTS idx_audit_events_request ON audit_events(request_id);
`

// DBWriter bulk-inserts audit blobs into a local SQLite database.
// Duplicate (requestId, phase) pairs are silently ignored, which makes
// at-least-once redelivery safe.
type DBWriter struct {
	db *sqlx.DB
}

// NewDBWriter opens (and if needed initializes) the audit database.
func NewDBWriter(path string) (*DBWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("db writer requires a database path")
	}
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}
	return &DBWriter{db: db}, nil
}

// WriteBatch inserts the batch in one transaction.
func (w *DBWriter) WriteBatch(ctx context.Context, blobs []models.AuditBlob) error {
	if len(blobs) == 0 {
		return nil
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT OR IGNORE INTO audit_events (request_id, phase, service, ts, data)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, blob := range blobs {
		data, err := json.Marshal(blob.Data)
		if err != nil {
			return fmt.Errorf("serialize audit data for %s: %w", blob.Meta.RequestID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			blob.Meta.RequestID, blob.Phase, blob.Meta.Service, blob.Meta.TS, string(data)); err != nil {
			return fmt.Errorf("insert audit event %s/%s: %w", blob.Meta.RequestID, blob.Phase, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored audit events.
func (w *DBWriter) Count(ctx context.Context) (int, error) {
	var n int
	err := w.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM audit_events")
	return n, err
}

// Close releases the database handle.
func (w *DBWriter) Close() error {
	return w.db.Close()
}
