// Copyright 2025.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

const backupTimeFormat = "20060102_150405.000000000"

// backupManager keeps timestamped copies of the session document, pruning
// the oldest ones beyond max. Backup failures are logged and never block
// the main save.
type backupManager struct {
	dir    string
	max    int
	logger *zap.SugaredLogger

	now func() time.Time
}

func newBackupManager(logger *zap.SugaredLogger, dir string, max int) *backupManager {
	if max <= 0 {
		max = 5
	}
	return &backupManager{dir: dir, max: max, logger: logger, now: time.Now}
}

// snapshot copies the current document into the backup directory. A missing
// source means nothing has been persisted yet and is not an error.
func (b *backupManager) snapshot(sourcePath string) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warnw("failed to read session document for backup", "path", sourcePath, "error", err)
		}
		return
	}

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		b.logger.Warnw("failed to create backup directory", "dir", b.dir, "error", err)
		return
	}

	name := fmt.Sprintf("sessions_backup_%s.json", b.now().Format(backupTimeFormat))
	if err := os.WriteFile(filepath.Join(b.dir, name), data, 0o600); err != nil {
		b.logger.Warnw("failed to write backup", "file", name, "error", err)
		return
	}

	b.prune()
}

func (b *backupManager) prune() {
	matches, err := filepath.Glob(filepath.Join(b.dir, "sessions_backup_*.json"))
	if err != nil || len(matches) <= b.max {
		return
	}

	// The timestamp format sorts lexically, oldest first.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-b.max] {
		if err := os.Remove(old); err != nil {
			b.logger.Warnw("failed to remove old backup", "file", old, "error", err)
		}
	}
}
