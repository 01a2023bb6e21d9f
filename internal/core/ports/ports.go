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

package ports

import "github.com/asshm/asshm/internal/core/domain"

// SessionRepository is the durable store for session records. All mutating
// operations persist before returning; a failed write leaves the in-memory
// state at the last durable snapshot.
type SessionRepository interface {
	// Load reads the persisted document. A missing document initializes
	// an empty store; a malformed one fails with *domain.CorruptStoreError.
	Load() error
	// List returns all sessions in insertion order.
	List() ([]domain.Session, error)
	Get(name string) (domain.Session, error)
	Add(session domain.Session) error
	// AddBatch commits many records in one persisted write.
	AddBatch(sessions []domain.Session) error
	// Update replaces the record stored under name. The new record may
	// carry a different name as long as it is free.
	Update(name string, session domain.Session) error
	Delete(name string) error
	// RecordConnection stamps LastConnection and increments ConnectionCount.
	RecordConnection(name string) error
}

// IPAMRepository is the durable address inventory.
type IPAMRepository interface {
	Load() error
	Entries() ([]domain.IPAMEntry, error)
	GetEntry(address string) (domain.IPAMEntry, error)
	// Upsert inserts or overwrites an entry. An existing session link is
	// preserved when the incoming entry does not carry one; Unlink clears
	// it explicitly.
	Upsert(entry domain.IPAMEntry) error
	// Release removes an entry. Releasing an absent address is a no-op.
	Release(address string) error
	// Link sets the session back-reference on an existing entry. It fails
	// with *domain.NotFoundError when the address is absent.
	Link(address, sessionName string) error
	Unlink(address string) error
	FindBySession(sessionName string) ([]domain.IPAMEntry, error)
	ListByStatus(status domain.IPStatus) ([]domain.IPAMEntry, error)

	Subnets() ([]domain.Subnet, error)
	GetSubnet(cidr string) (domain.Subnet, error)
	AddSubnet(subnet domain.Subnet) error
	// RemoveSubnet removes the subnet and every entry recorded under it.
	RemoveSubnet(cidr string) error
}

// ConfigProvider resolves per-user filesystem locations.
type ConfigProvider interface {
	HomeDir() string
	DataPath(elems ...string) string
	LogPath(filename string) string
	GetEnvOrDefault(envVar, defaultValue string) string
}

// FlagsProvider reads global command-line flags.
type FlagsProvider interface {
	IsDebug() bool
	GetFlag(name string) string
}
