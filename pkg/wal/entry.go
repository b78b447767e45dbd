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

// Package wal implements the durable audit journal: synchronous
// line-framed appends with configurable fsync cadence, rotating segments,
// and crash-safe replay with an atomic cursor. One process owns one WAL
// directory.
package wal

import (
	"context"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// Writer is a batch sink for replayed audit blobs. Implementations MUST be
// idempotent for identical input; the engine and replayer resend after
// crashes.
type Writer interface {
	WriteBatch(ctx context.Context, blobs []models.AuditBlob) error
}

// ErrEntryContract indicates a journaled line violates the audit entry
// contract. Contract failures are never retried; the replayer quarantines
// the whole segment.
var ErrEntryContract = errors.New("audit entry contract violated")

// EntryContractCode is the machine-readable code written into quarantine
// reason files.
const EntryContractCode = "WAL_ENTRY_CONTRACT_INVALID"

// walLineSchema is the shared audit-entry contract every journaled line
// must satisfy before it is handed to a writer.
const walLineSchema = `{
  "type": "object",
  "required": ["appendedAt", "blob"],
  "properties": {
    "appendedAt": {"type": "integer", "minimum": 1},
    "blob": {
      "type": "object",
      "required": ["meta", "phase"],
      "properties": {
        "meta": {
          "type": "object",
          "required": ["service", "ts", "requestId"],
          "properties": {
            "service": {"type": "string", "minLength": 1},
            "ts": {"type": "integer", "minimum": 1},
            "requestId": {"type": "string", "minLength": 1}
          }
        },
        "phase": {"enum": ["begin", "end", "error"]},
        "data": {"type": "object"}
      }
    }
  }
}`

var compiledLineSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(walLineSchema))
	if err != nil {
		panic(fmt.Sprintf("wal: invalid entry schema: %v", err))
	}
	compiledLineSchema = schema
}

// ValidateLine checks one serialized WAL line against the entry contract.
func ValidateLine(line []byte) error {
	result, err := compiledLineSchema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEntryContract, err)
	}
	if !result.Valid() {
		return fmt.Errorf("%w: %s", ErrEntryContract, result.Errors()[0].String())
	}
	return nil
}

// ValidateBlob checks blob meta before journaling. The journal never
// accepts a blob the replayer would later quarantine.
func ValidateBlob(blob models.AuditBlob) error {
	if blob.Meta.Service == "" {
		return fmt.Errorf("%w: meta.service is empty", ErrEntryContract)
	}
	if blob.Meta.RequestID == "" {
		return fmt.Errorf("%w: meta.requestId is empty", ErrEntryContract)
	}
	if blob.Meta.TS <= 0 {
		return fmt.Errorf("%w: meta.ts must be a positive epoch-ms value", ErrEntryContract)
	}
	switch blob.Phase {
	case models.AuditPhaseBegin, models.AuditPhaseEnd, models.AuditPhaseError:
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrEntryContract, blob.Phase)
	}
	return nil
}
