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
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/asshm/asshm/internal/core/domain"
)

const (
	ipamEntriesFile = "ip_entries.json"
	ipamSubnetsFile = "subnets.json"
)

// ipamStore is the durable address inventory, persisted as two JSON
// documents under one directory. An address appears at most once.
type ipamStore struct {
	dir    string
	logger *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]domain.IPAMEntry
	subnets map[string]domain.Subnet
}

func NewIPAMStore(logger *zap.SugaredLogger, dir string) *ipamStore {
	return &ipamStore{
		dir:     dir,
		logger:  logger,
		entries: make(map[string]domain.IPAMEntry),
		subnets: make(map[string]domain.Subnet),
	}
}

func (s *ipamStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []domain.IPAMEntry
	if err := readJSONDocument(filepath.Join(s.dir, ipamEntriesFile), &records); err != nil {
		return err
	}
	var subnets []domain.Subnet
	if err := readJSONDocument(filepath.Join(s.dir, ipamSubnetsFile), &subnets); err != nil {
		return err
	}

	s.entries = make(map[string]domain.IPAMEntry, len(records))
	for _, entry := range records {
		s.entries[entry.Address] = entry
	}
	s.subnets = make(map[string]domain.Subnet, len(subnets))
	for _, subnet := range subnets {
		s.subnets[subnet.CIDR] = subnet
	}
	return nil
}

func (s *ipamStore) Entries() ([]domain.IPAMEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedEntries(s.entries), nil
}

func (s *ipamStore) GetEntry(address string) (domain.IPAMEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[address]
	if !ok {
		return domain.IPAMEntry{}, &domain.NotFoundError{Kind: "address", Name: address}
	}
	return entry, nil
}

// Upsert inserts or overwrites an entry. An existing session link is
// preserved when the incoming entry does not carry one.
func (s *ipamStore) Upsert(entry domain.IPAMEntry) error {
	if err := validateAddress(entry.Address); err != nil {
		return err
	}
	if entry.Status == "" {
		entry.Status = domain.IPStatusUnknown
	}
	if !domain.ValidIPStatus(entry.Status) {
		return domain.NewValidationError("status", "unknown status %q", entry.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.entries[entry.Address]
	if existed && entry.SessionName == "" {
		entry.SessionName = previous.SessionName
	}

	s.entries[entry.Address] = entry
	if err := s.persistEntriesLocked(); err != nil {
		if existed {
			s.entries[entry.Address] = previous
		} else {
			delete(s.entries, entry.Address)
		}
		return err
	}
	return nil
}

// Release removes an entry. Releasing an absent address is a no-op.
func (s *ipamStore) Release(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.entries[address]
	if !ok {
		return nil
	}

	delete(s.entries, address)
	if err := s.persistEntriesLocked(); err != nil {
		s.entries[address] = previous
		return err
	}
	return nil
}

func (s *ipamStore) Link(address, sessionName string) error {
	return s.setLink(address, sessionName)
}

func (s *ipamStore) Unlink(address string) error {
	return s.setLink(address, "")
}

func (s *ipamStore) setLink(address, sessionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.entries[address]
	if !ok {
		return &domain.NotFoundError{Kind: "address", Name: address}
	}

	updated := previous
	updated.SessionName = sessionName
	s.entries[address] = updated
	if err := s.persistEntriesLocked(); err != nil {
		s.entries[address] = previous
		return err
	}
	return nil
}

func (s *ipamStore) FindBySession(sessionName string) ([]domain.IPAMEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make(map[string]domain.IPAMEntry)
	for address, entry := range s.entries {
		if entry.SessionName == sessionName {
			matched[address] = entry
		}
	}
	return sortedEntries(matched), nil
}

func (s *ipamStore) ListByStatus(status domain.IPStatus) ([]domain.IPAMEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make(map[string]domain.IPAMEntry)
	for address, entry := range s.entries {
		if entry.Status == status {
			matched[address] = entry
		}
	}
	return sortedEntries(matched), nil
}

func (s *ipamStore) Subnets() ([]domain.Subnet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Subnet, 0, len(s.subnets))
	for _, subnet := range s.subnets {
		out = append(out, subnet)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CIDR < out[j].CIDR })
	return out, nil
}

func (s *ipamStore) GetSubnet(cidr string) (domain.Subnet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subnet, ok := s.subnets[cidr]
	if !ok {
		return domain.Subnet{}, &domain.NotFoundError{Kind: "subnet", Name: cidr}
	}
	return subnet, nil
}

func (s *ipamStore) AddSubnet(subnet domain.Subnet) error {
	if _, err := netip.ParsePrefix(subnet.CIDR); err != nil {
		return domain.NewValidationError("cidr", "invalid CIDR %q: %v", subnet.CIDR, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subnets[subnet.CIDR]; exists {
		return domain.NewValidationError("cidr", "subnet %q already exists", subnet.CIDR)
	}

	s.subnets[subnet.CIDR] = subnet
	if err := s.persistSubnetsLocked(); err != nil {
		delete(s.subnets, subnet.CIDR)
		return err
	}
	return nil
}

// RemoveSubnet removes the subnet and every entry recorded under it.
func (s *ipamStore) RemoveSubnet(cidr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.subnets[cidr]
	if !ok {
		return &domain.NotFoundError{Kind: "subnet", Name: cidr}
	}

	removed := make(map[string]domain.IPAMEntry)
	for address, entry := range s.entries {
		if entry.Subnet == cidr {
			removed[address] = entry
			delete(s.entries, address)
		}
	}
	delete(s.subnets, cidr)

	if err := s.persistSubnetsLocked(); err != nil {
		s.subnets[cidr] = previous
		for address, entry := range removed {
			s.entries[address] = entry
		}
		return err
	}
	if err := s.persistEntriesLocked(); err != nil {
		for address, entry := range removed {
			s.entries[address] = entry
		}
		return err
	}
	return nil
}

func (s *ipamStore) persistEntriesLocked() error {
	return atomicWriteJSON(filepath.Join(s.dir, ipamEntriesFile), sortedEntries(s.entries))
}

func (s *ipamStore) persistSubnetsLocked() error {
	subnets := make([]domain.Subnet, 0, len(s.subnets))
	for _, subnet := range s.subnets {
		subnets = append(subnets, subnet)
	}
	sort.Slice(subnets, func(i, j int) bool { return subnets[i].CIDR < subnets[j].CIDR })
	return atomicWriteJSON(filepath.Join(s.dir, ipamSubnetsFile), subnets)
}

func sortedEntries(entries map[string]domain.IPAMEntry) []domain.IPAMEntry {
	out := make([]domain.IPAMEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// validateAddress accepts a single IP literal or a CIDR subnet.
func validateAddress(address string) error {
	if _, err := netip.ParseAddr(address); err == nil {
		return nil
	}
	if _, err := netip.ParsePrefix(address); err == nil {
		return nil
	}
	return domain.NewValidationError("ip", "invalid address %q", address)
}

// readJSONDocument decodes a JSON document into out. A missing file leaves
// out empty; malformed content fails with *domain.CorruptStoreError.
func readJSONDocument(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &domain.CorruptStoreError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.CorruptStoreError{Path: path, Err: err}
	}
	return nil
}

// atomicWriteJSON writes v as an indented JSON document via a temp file in
// the same directory, so a crash mid-write never leaves a partial document.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}
