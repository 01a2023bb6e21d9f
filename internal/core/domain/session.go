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
	"strings"
	"time"
)

const (
	// DefaultGroup is assigned to sessions created without an explicit group.
	DefaultGroup = "Ungrouped"

	// DefaultSSHPort is used whenever a session does not carry a port.
	DefaultSSHPort = 22
)

// Session is a named set of connection parameters for one remote host.
// The json tags define the bulk import/export interchange shape and the
// on-disk document; field names must round-trip exactly.
type Session struct {
	Name        string   `json:"name"`
	Host        string   `json:"host"`
	Username    string   `json:"username,omitempty"`
	Password    string   `json:"password,omitempty"`
	Port        int      `json:"port,omitempty"`
	Group       string   `json:"group,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
	KeyFile     string   `json:"key_file,omitempty"`
	Params      string   `json:"params,omitempty"`

	LastConnection  time.Time `json:"last_connection,omitzero"`
	ConnectionCount int       `json:"connection_count,omitempty"`
}

// EffectiveGroup returns the session's group, defaulting when unset.
func (s Session) EffectiveGroup() string {
	if strings.TrimSpace(s.Group) == "" {
		return DefaultGroup
	}
	return s.Group
}

// EffectivePort returns the session's port, defaulting to 22 when unset.
func (s Session) EffectivePort() int {
	if s.Port <= 0 {
		return DefaultSSHPort
	}
	return s.Port
}

// HasTag reports whether the session carries the tag, case-insensitively.
func (s Session) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// NormalizeTags deduplicates a tag list case-insensitively, trimming
// whitespace and preserving the first-seen spelling and order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, tag)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

// SplitParams splits free-form extra arguments on whitespace. Each token is
// passed to the launched tool as its own argument, never through a shell.
func SplitParams(params string) []string {
	return strings.Fields(params)
}
