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
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asshm/asshm/internal/core/domain"
)

// sessionStore is the single source of truth for session records of one
// user profile, backed by one JSON document. Mutations persist atomically
// (temp file + rename); on a failed write the in-memory state is rolled
// back to the last durable snapshot.
type sessionStore struct {
	filePath string
	logger   *zap.SugaredLogger
	backups  *backupManager

	mu       sync.Mutex
	sessions map[string]domain.Session
	order    []string
}

func NewSessionStore(logger *zap.SugaredLogger, filePath string, maxBackups int) *sessionStore {
	backupDir := filepath.Join(filepath.Dir(filePath), "backups")
	return &sessionStore{
		filePath: filePath,
		logger:   logger,
		backups:  newBackupManager(logger, backupDir, maxBackups),
		sessions: make(map[string]domain.Session),
	}
}

// Load reads the persisted document. A missing file initializes an empty
// store; malformed JSON fails with *domain.CorruptStoreError and leaves any
// in-memory state untouched.
func (s *sessionStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.sessions = make(map[string]domain.Session)
			s.order = nil
			return nil
		}
		return &domain.CorruptStoreError{Path: s.filePath, Err: err}
	}

	var records []domain.Session
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return &domain.CorruptStoreError{Path: s.filePath, Err: err}
		}
	}

	sessions := make(map[string]domain.Session, len(records))
	order := make([]string, 0, len(records))
	for _, record := range records {
		if _, exists := sessions[record.Name]; exists {
			s.logger.Warnw("duplicate session name in store document, keeping first", "name", record.Name)
			continue
		}
		sessions[record.Name] = record
		order = append(order, record.Name)
	}

	s.sessions = sessions
	s.order = order
	return nil
}

// List returns all sessions in insertion order.
func (s *sessionStore) List() ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Session, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.sessions[name])
	}
	return out, nil
}

func (s *sessionStore) Get(name string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[name]
	if !ok {
		return domain.Session{}, &domain.NotFoundError{Kind: "session", Name: name}
	}
	return session, nil
}

func (s *sessionStore) Add(session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.Name]; exists {
		return domain.NewValidationError("name", "session %q already exists", session.Name)
	}

	s.sessions[session.Name] = session
	s.order = append(s.order, session.Name)
	if err := s.persistLocked(); err != nil {
		delete(s.sessions, session.Name)
		s.order = s.order[:len(s.order)-1]
		return err
	}
	return nil
}

// AddBatch commits many records in a single persisted write.
func (s *sessionStore) AddBatch(sessions []domain.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range sessions {
		if _, exists := s.sessions[session.Name]; exists {
			return domain.NewValidationError("name", "session %q already exists", session.Name)
		}
	}

	prevOrder := len(s.order)
	for _, session := range sessions {
		s.sessions[session.Name] = session
		s.order = append(s.order, session.Name)
	}
	if err := s.persistLocked(); err != nil {
		for _, session := range sessions {
			delete(s.sessions, session.Name)
		}
		s.order = s.order[:prevOrder]
		return err
	}
	return nil
}

// Update replaces the record stored under name, preserving its position in
// the insertion order. The new record may carry a different name as long as
// the new name is free.
func (s *sessionStore) Update(name string, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.sessions[name]
	if !ok {
		return &domain.NotFoundError{Kind: "session", Name: name}
	}
	if session.Name != name {
		if _, exists := s.sessions[session.Name]; exists {
			return domain.NewValidationError("name", "session %q already exists", session.Name)
		}
	}

	delete(s.sessions, name)
	s.sessions[session.Name] = session
	if session.Name != name {
		for i, n := range s.order {
			if n == name {
				s.order[i] = session.Name
				break
			}
		}
	}
	if err := s.persistLocked(); err != nil {
		delete(s.sessions, session.Name)
		s.sessions[name] = previous
		if session.Name != name {
			for i, n := range s.order {
				if n == session.Name {
					s.order[i] = name
					break
				}
			}
		}
		return err
	}
	return nil
}

func (s *sessionStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.sessions[name]
	if !ok {
		return &domain.NotFoundError{Kind: "session", Name: name}
	}

	position := -1
	for i, n := range s.order {
		if n == name {
			position = i
			break
		}
	}

	delete(s.sessions, name)
	if position >= 0 {
		s.order = append(s.order[:position], s.order[position+1:]...)
	}
	if err := s.persistLocked(); err != nil {
		s.sessions[name] = previous
		if position >= 0 {
			s.order = append(s.order, "")
			copy(s.order[position+1:], s.order[position:])
			s.order[position] = name
		}
		return err
	}
	return nil
}

// RecordConnection stamps LastConnection and increments ConnectionCount
// after a successful launch.
func (s *sessionStore) RecordConnection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.sessions[name]
	if !ok {
		return &domain.NotFoundError{Kind: "session", Name: name}
	}

	updated := previous
	updated.LastConnection = time.Now()
	updated.ConnectionCount++
	s.sessions[name] = updated
	if err := s.persistLocked(); err != nil {
		s.sessions[name] = previous
		return err
	}
	return nil
}

// persistLocked writes the current state to the document. The caller holds
// the mutex. A backup of the previous document is taken first; the write
// itself goes through a temp file and an atomic rename.
func (s *sessionStore) persistLocked() error {
	records := make([]domain.Session, 0, len(s.order))
	for _, name := range s.order {
		records = append(records, s.sessions[name])
	}

	s.backups.snapshot(s.filePath)
	return atomicWriteJSON(s.filePath, records)
}

func writeAndClose(f *os.File, data []byte) error {
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
