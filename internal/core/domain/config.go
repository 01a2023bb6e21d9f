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

// Config represents the application configuration.
type Config struct {
	// Tool paths. Empty values fall back to $PATH lookup and the
	// well-known install locations of each client.
	TerminalPath      string `yaml:"terminal_path"`
	FileTransferPath  string `yaml:"file_transfer_path"`
	RemoteDesktopPath string `yaml:"remote_desktop_path"`

	// MaxBackups bounds the number of rotated session-document backups
	// kept on disk.
	MaxBackups int `yaml:"max_backups"`

	// SavePasswords controls whether passwords entered for a session are
	// written into the session document.
	SavePasswords bool `yaml:"save_passwords"`
}

// ToolRegistry is the resolved executable path per tool, consumed by the
// launch builder.
type ToolRegistry struct {
	Terminal      string
	FileTransfer  string
	RemoteDesktop string
}

// PathFor returns the configured executable path for a tool, which may be
// empty when the tool has not been resolved.
func (r ToolRegistry) PathFor(tool Tool) string {
	switch tool {
	case ToolTerminal:
		return r.Terminal
	case ToolFileTransfer:
		return r.FileTransfer
	case ToolRemoteDesktop:
		return r.RemoteDesktop
	}
	return ""
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxBackups:    5,
		SavePasswords: true,
	}
}
