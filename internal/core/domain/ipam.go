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

package domain

import (
	"net/netip"
	"time"
)

// IPStatus is the inventory state of an address.
type IPStatus string

const (
	IPStatusFree     IPStatus = "Free"
	IPStatusReserved IPStatus = "Reserved"
	IPStatusInUse    IPStatus = "InUse"
	IPStatusUnknown  IPStatus = "Unknown"
)

// ValidIPStatus reports whether s is one of the known inventory states.
func ValidIPStatus(s IPStatus) bool {
	switch s {
	case IPStatusFree, IPStatusReserved, IPStatusInUse, IPStatusUnknown:
		return true
	}
	return false
}

// IPAMEntry is a single address in the inventory. SessionName is a weak
// back-reference by session name, resolved on demand; deleting the session
// only clears the reference, never the entry.
type IPAMEntry struct {
	Address     string    `json:"ip"`
	Subnet      string    `json:"subnet,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      IPStatus  `json:"status"`
	SessionName string    `json:"session_name,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitzero"`
}

// Subnet is a managed address range.
type Subnet struct {
	CIDR        string `json:"cidr"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Prefix parses the subnet's CIDR.
func (s Subnet) Prefix() (netip.Prefix, error) {
	return netip.ParsePrefix(s.CIDR)
}

// Contains reports whether the address falls inside this subnet.
func (s Subnet) Contains(address string) bool {
	prefix, err := s.Prefix()
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	return prefix.Contains(addr)
}

// Enumeration bounds for Hosts. Wider prefixes would walk millions of
// addresses and stall usage stats and sweeps.
const (
	minHostsBits4 = 16
	minHostsBits6 = 112
)

// Hosts returns the usable addresses of the subnet. The network and
// broadcast addresses are excluded for IPv4 prefixes shorter than /31.
// Prefixes wider than /16 (IPv4) or /112 (IPv6) are not enumerated and
// yield nil.
func (s Subnet) Hosts() []string {
	prefix, err := s.Prefix()
	if err != nil {
		return nil
	}
	if prefix.Addr().Is4() {
		if prefix.Bits() < minHostsBits4 {
			return nil
		}
	} else if prefix.Bits() < minHostsBits6 {
		return nil
	}
	prefix = prefix.Masked()

	var hosts []string
	skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31
	first := prefix.Addr()
	for addr := first; prefix.Contains(addr); addr = addr.Next() {
		if skipEdges && addr == first {
			continue
		}
		hosts = append(hosts, addr.String())
	}
	if skipEdges && len(hosts) > 0 {
		hosts = hosts[:len(hosts)-1] // drop broadcast
	}
	return hosts
}

// SubnetUsage summarizes address consumption inside one subnet.
type SubnetUsage struct {
	Total       int     `json:"total"`
	Used        int     `json:"used"`
	Available   int     `json:"available"`
	Utilization float64 `json:"utilization"`
}

// ImportRejection pairs a rejected raw record with the reason it was
// skipped during a best-effort bulk import.
type ImportRejection struct {
	Record Session
	Reason string
}

// ImportReport is the outcome of a bulk session import.
type ImportReport struct {
	Accepted []Session
	Rejected []ImportRejection
}
