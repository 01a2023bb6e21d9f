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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/asshm/asshm/internal/core/domain"
)

const rdpPort = 3389

// BuildInvocation turns a session and a requested tool into a concrete
// external-process invocation. It never executes anything; the only side
// effect is the ephemeral remote-desktop settings file, written into
// tempDir with restrictive permissions and listed in TempFiles so the
// caller can remove it once the process has started.
//
// Credential selection: a key file wins over a password; with neither, the
// external tool prompts interactively.
func BuildInvocation(session domain.Session, tool domain.Tool, registry domain.ToolRegistry, tempDir string) (domain.Invocation, error) {
	inv := domain.Invocation{
		ID:   uuid.NewString(),
		Tool: tool,
		Path: registry.PathFor(tool),
	}

	if session.KeyFile != "" && !strings.HasSuffix(strings.ToLower(session.KeyFile), ".ppk") {
		return domain.Invocation{}, &domain.UnsupportedToolError{
			Tool:   tool,
			Reason: fmt.Sprintf("key file %q is not in the required .ppk format", session.KeyFile),
		}
	}

	var err error
	switch tool {
	case domain.ToolTerminal:
		inv.Args = buildTerminalArgs(session)
	case domain.ToolFileTransfer:
		inv.Args = buildFileTransferArgs(session)
	case domain.ToolRemoteDesktop:
		inv.Args, inv.TempFiles, err = buildRemoteDesktopArgs(session, tempDir, inv.ID)
	default:
		return domain.Invocation{}, &domain.UnsupportedToolError{Tool: tool, Reason: "unknown tool"}
	}
	if err != nil {
		return domain.Invocation{}, err
	}

	return inv, nil
}

// buildTerminalArgs constructs the PuTTY argument list. With a key file the
// host and user are passed separately alongside -i; otherwise the classic
// user@host target is used and -pw only when a password is stored.
func buildTerminalArgs(session domain.Session) []string {
	port := strconv.Itoa(session.EffectivePort())

	var args []string
	if session.KeyFile != "" {
		args = []string{"-ssh", session.Host, "-P", port, "-i", session.KeyFile}
		if session.Username != "" {
			args = append(args, "-l", session.Username)
		}
	} else {
		target := session.Host
		if session.Username != "" {
			target = session.Username + "@" + session.Host
		}
		args = []string{"-ssh", target, "-P", port}
		if session.Password != "" {
			args = append(args, "-pw", session.Password)
		}
	}

	return append(args, domain.SplitParams(session.Params)...)
}

// buildFileTransferArgs constructs the WinSCP argument list: an sftp:// URL
// plus /privatekey when key auth is configured. The password rides in the
// URL only when no key file is set.
func buildFileTransferArgs(session domain.Session) []string {
	var url strings.Builder
	url.WriteString("sftp://")
	if session.Username != "" {
		url.WriteString(session.Username)
		if session.Password != "" && session.KeyFile == "" {
			url.WriteString(":")
			url.WriteString(session.Password)
		}
		url.WriteString("@")
	}
	url.WriteString(session.Host)

	args := []string{url.String()}
	if session.KeyFile != "" {
		args = append(args, "/privatekey="+session.KeyFile)
	}

	return append(args, domain.SplitParams(session.Params)...)
}

// buildRemoteDesktopArgs writes the per-invocation .rdp settings file and
// returns its path as the sole argument. The remote-desktop client has no
// key-based auth, so a key-only session cannot be satisfied.
func buildRemoteDesktopArgs(session domain.Session, tempDir, id string) ([]string, []string, error) {
	if session.KeyFile != "" && session.Password == "" {
		return nil, nil, &domain.UnsupportedToolError{
			Tool:   domain.ToolRemoteDesktop,
			Reason: "remote desktop cannot authenticate with a key file and the session has no password fallback",
		}
	}

	if tempDir == "" {
		tempDir = os.TempDir()
	}
	path := filepath.Join(tempDir, fmt.Sprintf("asshm-%s.rdp", id))
	if err := os.WriteFile(path, renderRDPSettings(session), 0o600); err != nil {
		return nil, nil, fmt.Errorf("failed to write remote desktop settings file: %w", err)
	}

	return []string{path}, []string{path}, nil
}

// renderRDPSettings produces the .rdp settings document. The password is
// never written; a stored password only disables the credential prompt and
// defers to the system credential manager.
func renderRDPSettings(session domain.Session) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "full address:s:%s:%d\n", session.Host, rdpPort)
	if session.Username != "" {
		fmt.Fprintf(&b, "username:s:%s\n", session.Username)
	}

	b.WriteString("screen mode id:i:1\n")
	b.WriteString("desktopwidth:i:1366\n")
	b.WriteString("desktopheight:i:768\n")
	b.WriteString("session bpp:i:32\n")
	b.WriteString("use multimon:i:0\n")
	b.WriteString("audiomode:i:0\n")
	b.WriteString("connection type:i:7\n")
	b.WriteString("networkautodetect:i:1\n")
	b.WriteString("bandwidthautodetect:i:1\n")

	if session.Password != "" {
		b.WriteString("prompt for credentials:i:0\n")
	} else {
		b.WriteString("prompt for credentials:i:1\n")
	}

	b.WriteString("alternate shell:s:\n")
	b.WriteString("shell working directory:s:\n")
	b.WriteString("disable wallpaper:i:1\n")
	b.WriteString("disable full window drag:i:1\n")
	b.WriteString("disable menu anims:i:1\n")
	b.WriteString("disable themes:i:0\n")
	b.WriteString("disable cursor setting:i:0\n")
	b.WriteString("authentication level:i:2\n")
	return []byte(b.String())
}
