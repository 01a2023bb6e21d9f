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

package services

import (
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/asshm/asshm/internal/core/domain"
	"github.com/asshm/asshm/internal/core/ports"
)

// sessionService is the application facade: CRUD and queries pass through
// to the session store, launches go through the builder, and the IPAM
// index is kept consistent with session hosts.
type sessionService struct {
	logger        *zap.SugaredLogger
	sessions      ports.SessionRepository
	ipam          ports.IPAMRepository
	registry      domain.ToolRegistry
	tempDir       string
	savePasswords bool

	newCommand func(path string, args ...string) *exec.Cmd
}

// NewSessionService creates a new instance of sessionService. With
// savePasswords disabled, passwords are stripped from records before they
// are persisted and the external tools prompt instead.
func NewSessionService(logger *zap.SugaredLogger, sessions ports.SessionRepository, ipam ports.IPAMRepository, registry domain.ToolRegistry, savePasswords bool) *sessionService {
	return &sessionService{
		logger:        logger,
		sessions:      sessions,
		ipam:          ipam,
		registry:      registry,
		tempDir:       os.TempDir(),
		savePasswords: savePasswords,
		newCommand:    exec.Command,
	}
}

// scrubCredentials applies the save-passwords setting to a record bound for
// the store.
func (s *sessionService) scrubCredentials(session domain.Session) domain.Session {
	if !s.savePasswords {
		session.Password = ""
	}
	return session
}

// ListFilter narrows a session listing. Zero values match everything.
type ListFilter struct {
	Group  string
	Tag    string
	Search string
}

func (f ListFilter) matches(session domain.Session) bool {
	if f.Group != "" && session.EffectiveGroup() != f.Group {
		return false
	}
	if f.Tag != "" && !session.HasTag(f.Tag) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		if !strings.Contains(strings.ToLower(session.Name), term) &&
			!strings.Contains(strings.ToLower(session.Host), term) &&
			!strings.Contains(strings.ToLower(session.Description), term) {
			return false
		}
	}
	return true
}

// validateSession performs core validation of session fields.
func validateSession(session domain.Session) error {
	if strings.TrimSpace(session.Name) == "" {
		return domain.NewValidationError("name", "session name is required")
	}
	if strings.TrimSpace(session.Host) == "" {
		return domain.NewValidationError("host", "host is required")
	}
	if session.Port != 0 && (session.Port < 1 || session.Port > 65535) {
		return domain.NewValidationError("port", "port must be a number between 1 and 65535")
	}
	if session.KeyFile != "" && !IsPPKFile(session.KeyFile) {
		format := InspectKeyFormat(session.KeyFile)
		return domain.NewValidationError("key_file",
			"key file %q is not in the .ppk format (detected %s); %s",
			session.KeyFile, format, KeyFormatHint(format))
	}
	return nil
}

// normalizeSession applies the documented defaults before validation.
func normalizeSession(session domain.Session) domain.Session {
	session.Name = strings.TrimSpace(session.Name)
	session.Host = strings.TrimSpace(session.Host)
	session.Group = session.EffectiveGroup()
	session.Tags = domain.NormalizeTags(session.Tags)
	return session
}

// CreateSession validates and stores a new session.
func (s *sessionService) CreateSession(session domain.Session) error {
	session = s.scrubCredentials(normalizeSession(session))
	if err := validateSession(session); err != nil {
		s.logger.Warnw("validation failed on create", "error", err, "session", session.Name)
		return err
	}
	if err := s.sessions.Add(session); err != nil {
		s.logger.Errorw("failed to create session", "error", err, "session", session.Name)
		return err
	}
	s.syncAddressInventory(session)
	return nil
}

// UpdateSession replaces the session stored under name with new details.
func (s *sessionService) UpdateSession(name string, session domain.Session) error {
	session = s.scrubCredentials(normalizeSession(session))
	if err := validateSession(session); err != nil {
		s.logger.Warnw("validation failed on update", "error", err, "session", name)
		return err
	}
	if err := s.sessions.Update(name, session); err != nil {
		s.logger.Errorw("failed to update session", "error", err, "session", name)
		return err
	}
	if session.Name != name {
		s.relinkAddresses(name, session.Name)
	}
	s.syncAddressInventory(session)
	return nil
}

// DeleteSession removes the session and clears any address back-references
// pointing at it. The inventory entries themselves stay.
func (s *sessionService) DeleteSession(name string) error {
	if err := s.sessions.Delete(name); err != nil {
		s.logger.Errorw("failed to delete session", "error", err, "session", name)
		return err
	}

	entries, err := s.ipam.FindBySession(name)
	if err != nil {
		s.logger.Warnw("failed to look up linked addresses", "error", err, "session", name)
		return nil
	}
	for _, entry := range entries {
		if err := s.ipam.Unlink(entry.Address); err != nil {
			s.logger.Warnw("failed to clear address back-reference", "error", err, "address", entry.Address)
		}
	}
	return nil
}

func (s *sessionService) GetSession(name string) (domain.Session, error) {
	return s.sessions.Get(name)
}

// ListSessions returns sessions in insertion order, narrowed by the filter.
func (s *sessionService) ListSessions(filter ListFilter) ([]domain.Session, error) {
	sessions, err := s.sessions.List()
	if err != nil {
		s.logger.Errorw("failed to list sessions", "error", err)
		return nil, err
	}

	filtered := make([]domain.Session, 0, len(sessions))
	for _, session := range sessions {
		if filter.matches(session) {
			filtered = append(filtered, session)
		}
	}
	return filtered, nil
}

// Groups returns the distinct group names in use, sorted.
func (s *sessionService) Groups() ([]string, error) {
	sessions, err := s.sessions.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var groups []string
	for _, session := range sessions {
		group := session.EffectiveGroup()
		if _, ok := seen[group]; !ok {
			seen[group] = struct{}{}
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups, nil
}

// TagNames returns the union of all session tags, deduplicated
// case-insensitively and sorted.
func (s *sessionService) TagNames() ([]string, error) {
	sessions, err := s.sessions.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var tags []string
	for _, session := range sessions {
		for _, tag := range session.Tags {
			key := strings.ToLower(tag)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// ImportSessions applies a best-effort bulk import: each record is
// validated independently, invalid ones are collected into the report, and
// the valid ones are committed together in one persisted write.
func (s *sessionService) ImportSessions(records []domain.Session) (domain.ImportReport, error) {
	existing, err := s.sessions.List()
	if err != nil {
		return domain.ImportReport{}, err
	}
	taken := make(map[string]struct{}, len(existing))
	for _, session := range existing {
		taken[session.Name] = struct{}{}
	}

	var report domain.ImportReport
	for _, record := range records {
		session := s.scrubCredentials(normalizeSession(record))
		if err := validateSession(session); err != nil {
			report.Rejected = append(report.Rejected, domain.ImportRejection{Record: record, Reason: err.Error()})
			continue
		}
		if _, exists := taken[session.Name]; exists {
			report.Rejected = append(report.Rejected, domain.ImportRejection{
				Record: record,
				Reason: fmt.Sprintf("name: session %q already exists", session.Name),
			})
			continue
		}
		taken[session.Name] = struct{}{}
		report.Accepted = append(report.Accepted, session)
	}

	if err := s.sessions.AddBatch(report.Accepted); err != nil {
		s.logger.Errorw("failed to persist imported sessions", "error", err, "count", len(report.Accepted))
		return domain.ImportReport{}, err
	}

	for _, session := range report.Accepted {
		s.syncAddressInventory(session)
	}
	s.logger.Infow("bulk import finished", "accepted", len(report.Accepted), "rejected", len(report.Rejected))
	return report, nil
}

// ImportSessionsAsync runs ImportSessions on a background worker and
// reports completion through done, keeping large imports off the caller's
// thread.
func (s *sessionService) ImportSessionsAsync(records []domain.Session, done func(domain.ImportReport, error)) {
	go func() {
		report, err := s.ImportSessions(records)
		done(report, err)
	}()
}

// ExportSessions produces the session set in the interchange record shape.
// A nil filter exports everything; import of an unfiltered export into an
// empty store reproduces the session set exactly.
func (s *sessionService) ExportSessions(filter *ListFilter) ([]domain.Session, error) {
	if filter == nil {
		return s.sessions.List()
	}
	return s.ListSessions(*filter)
}

// Launch builds the invocation for the session and starts the external
// tool without waiting for it. Any ephemeral settings file is removed
// before returning, on every exit path.
func (s *sessionService) Launch(name string, tool domain.Tool) (domain.Invocation, error) {
	session, err := s.sessions.Get(name)
	if err != nil {
		return domain.Invocation{}, err
	}

	inv, err := BuildInvocation(session, tool, s.registry, s.tempDir)
	if err != nil {
		s.logger.Warnw("failed to build invocation", "error", err, "session", name, "tool", tool)
		return domain.Invocation{}, err
	}
	defer s.removeTempFiles(inv)

	if inv.Path == "" {
		err := &domain.LaunchError{Tool: tool, Err: fmt.Errorf("no executable configured or found")}
		s.logger.Errorw("launch failed", "error", err, "session", name)
		return domain.Invocation{}, err
	}

	cmd := s.newCommand(inv.Path, inv.Args...)
	if cmd == nil {
		return domain.Invocation{}, &domain.LaunchError{Tool: tool, Err: fmt.Errorf("command factory returned nil")}
	}
	if err := cmd.Start(); err != nil {
		s.logger.Errorw("launch failed", "error", err, "session", name, "tool", tool)
		return domain.Invocation{}, &domain.LaunchError{Tool: tool, Err: err}
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	s.logger.Infow("launched external tool", "session", name, "tool", tool, "command", inv.Redacted())

	if err := s.sessions.RecordConnection(name); err != nil {
		s.logger.Errorw("failed to record connection stats", "error", err, "session", name)
	}
	return inv, nil
}

// PreviewCommand renders the redacted command line the launch would run,
// without starting anything.
func (s *sessionService) PreviewCommand(name string, tool domain.Tool) (string, error) {
	session, err := s.sessions.Get(name)
	if err != nil {
		return "", err
	}

	inv, err := BuildInvocation(session, tool, s.registry, s.tempDir)
	if err != nil {
		return "", err
	}
	s.removeTempFiles(inv)

	return strings.Join(inv.Redacted(), " "), nil
}

// removeTempFiles deletes the invocation's ephemeral files. A leftover is
// reported, not fatal.
func (s *sessionService) removeTempFiles(inv domain.Invocation) {
	for _, path := range inv.TempFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warnw("failed to remove ephemeral launch file", "error", err, "file", path)
		}
	}
}

// syncAddressInventory records an IP-literal session host in the inventory
// as in use, linked back to the session. Failures are logged; the session
// operation has already succeeded.
func (s *sessionService) syncAddressInventory(session domain.Session) {
	addr, err := netip.ParseAddr(session.Host)
	if err != nil {
		return // hostnames are not inventory material
	}

	entry := domain.IPAMEntry{
		Address:     addr.String(),
		Status:      domain.IPStatusInUse,
		SessionName: session.Name,
		Subnet:      s.containingSubnet(addr),
	}
	if err := s.ipam.Upsert(entry); err != nil {
		s.logger.Warnw("failed to sync address inventory", "error", err, "address", entry.Address)
	}
}

func (s *sessionService) containingSubnet(addr netip.Addr) string {
	subnets, err := s.ipam.Subnets()
	if err != nil {
		return ""
	}
	for _, subnet := range subnets {
		if prefix, err := subnet.Prefix(); err == nil && prefix.Contains(addr) {
			return subnet.CIDR
		}
	}
	return ""
}

func (s *sessionService) relinkAddresses(oldName, newName string) {
	entries, err := s.ipam.FindBySession(oldName)
	if err != nil {
		s.logger.Warnw("failed to look up linked addresses", "error", err, "session", oldName)
		return
	}
	for _, entry := range entries {
		if err := s.ipam.Link(entry.Address, newName); err != nil {
			s.logger.Warnw("failed to relink address", "error", err, "address", entry.Address)
		}
	}
}
