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
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/asshm/asshm/internal/core/domain"
)

// ResolveToolRegistry resolves the executable path of each external client:
// the configured path wins, then $PATH, then the well-known install
// locations. Unresolved tools stay empty and surface as a launch failure
// only when a launch actually targets them.
func ResolveToolRegistry(cfg domain.Config) domain.ToolRegistry {
	return domain.ToolRegistry{
		Terminal:      resolveToolPath(cfg.TerminalPath, []string{"putty.exe", "putty"}, terminalLocations()),
		FileTransfer:  resolveToolPath(cfg.FileTransferPath, []string{"WinSCP.exe", "winscp"}, fileTransferLocations()),
		RemoteDesktop: resolveToolPath(cfg.RemoteDesktopPath, []string{"mstsc.exe", "xfreerdp"}, remoteDesktopLocations()),
	}
}

// resolveToolPath picks the first usable executable for one tool.
func resolveToolPath(configured string, names []string, wellKnown []string) string {
	if configured != "" {
		if info, err := os.Stat(configured); err == nil && !info.IsDir() {
			return configured
		}
	}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, location := range wellKnown {
		if info, err := os.Stat(location); err == nil && !info.IsDir() {
			return location
		}
	}

	return ""
}

func programFilesDirs() []string {
	dirs := make([]string, 0, 2)
	if pf := os.Getenv("ProgramFiles"); pf != "" {
		dirs = append(dirs, pf)
	}
	if pf86 := os.Getenv("ProgramFiles(x86)"); pf86 != "" {
		dirs = append(dirs, pf86)
	}
	if len(dirs) == 0 && runtime.GOOS == "windows" {
		dirs = append(dirs, `C:\Program Files`, `C:\Program Files (x86)`)
	}
	return dirs
}

func terminalLocations() []string {
	var locations []string
	for _, dir := range programFilesDirs() {
		locations = append(locations, filepath.Join(dir, "PuTTY", "putty.exe"))
	}
	return append(locations, "/usr/bin/putty", "/usr/local/bin/putty")
}

func fileTransferLocations() []string {
	var locations []string
	for _, dir := range programFilesDirs() {
		locations = append(locations, filepath.Join(dir, "WinSCP", "WinSCP.exe"))
	}
	return locations
}

func remoteDesktopLocations() []string {
	if root := os.Getenv("SystemRoot"); root != "" {
		return []string{filepath.Join(root, "System32", "mstsc.exe")}
	}
	return []string{"/usr/bin/xfreerdp", "/usr/bin/rdesktop"}
}
