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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// ErrCursorWrite indicates the replay cursor could not be persisted.
var ErrCursorWrite = errors.New("cursor write failed")

// LoadCursor reads the replay cursor. A missing file yields the zero
// cursor (start of the oldest segment); a corrupt file is an error so the
// operator decides rather than silently redelivering everything.
func LoadCursor(path string) (models.Cursor, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.Cursor{}, nil
	}
	if err != nil {
		return models.Cursor{}, err
	}
	var c models.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return models.Cursor{}, fmt.Errorf("corrupt cursor file %s: %w", path, err)
	}
	if c.Offset < 0 {
		return models.Cursor{}, fmt.Errorf("corrupt cursor file %s: negative offset", path)
	}
	return c, nil
}

// SaveCursor persists the cursor crash-atomically: write temp, fsync,
// rename over the target, then best-effort fsync the directory.
func SaveCursor(path string, c models.Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCursorWrite, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCursorWrite, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrCursorWrite, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrCursorWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrCursorWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", ErrCursorWrite, err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}
