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

package models

import (
	"bytes"
	"encoding/json"
)

// Audit phases. Every request produces a begin record before its response is
// written and an end record after the handler completes. Pairing happens at
// the destination by requestId, never in process memory.
const (
	AuditPhaseBegin = "begin"
	AuditPhaseEnd   = "end"
	AuditPhaseError = "error"
)

// AuditMeta is the required metadata of every audit blob. All fields must be
// present and non-empty before the blob is journaled.
type AuditMeta struct {
	Service   string `json:"service"`
	TS        int64  `json:"ts"`
	RequestID string `json:"requestId"`
}

// AuditBlob is the unit of the audit pipeline: required meta plus an opaque
// payload whose schema is owned by the audit destination.
type AuditBlob struct {
	Meta  AuditMeta              `json:"meta"`
	Phase string                 `json:"phase"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// WalLine is the on-disk form of one journaled audit blob: a single
// newline-terminated JSON object in a segment file.
type WalLine struct {
	AppendedAt int64     `json:"appendedAt"`
	Blob       AuditBlob `json:"blob"`
}

// Cursor marks replay progress: the current segment basename and the byte
// offset of the next unread line. An empty File serializes as JSON null.
type Cursor struct {
	File   string
	Offset int64
}

type cursorJSON struct {
	File   *string `json:"file"`
	Offset int64   `json:"offset"`
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	j := cursorJSON{Offset: c.Offset}
	if c.File != "" {
		j.File = &c.File
	}
	return json.Marshal(j)
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	var j cursorJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&j); err != nil {
		return err
	}
	c.Offset = j.Offset
	c.File = ""
	if j.File != nil {
		c.File = *j.File
	}
	return nil
}
