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

import "strings"

// Tool identifies an external client the launcher can drive.
type Tool string

const (
	ToolTerminal      Tool = "terminal"       // PuTTY
	ToolFileTransfer  Tool = "file-transfer"  // WinSCP
	ToolRemoteDesktop Tool = "remote-desktop" // mstsc
)

// ParseTool maps a user-supplied tool name to a Tool.
func ParseTool(name string) (Tool, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "terminal", "ssh", "putty":
		return ToolTerminal, true
	case "file-transfer", "sftp", "winscp":
		return ToolFileTransfer, true
	case "remote-desktop", "rdp", "mstsc":
		return ToolRemoteDesktop, true
	}
	return "", false
}

func (t Tool) String() string { return string(t) }

// Invocation describes one external-process launch. The builder never
// executes anything itself; the facade starts the process and is
// responsible for removing TempFiles once it has.
type Invocation struct {
	ID        string
	Tool      Tool
	Path      string
	Args      []string
	TempFiles []string
}

// Redacted returns the full command line with credential material masked,
// safe for logs and for display to the user.
func (inv Invocation) Redacted() []string {
	out := make([]string, 0, len(inv.Args)+1)
	out = append(out, inv.Path)
	maskNext := false
	for _, arg := range inv.Args {
		switch {
		case maskNext:
			out = append(out, "********")
			maskNext = false
		case arg == "-pw":
			out = append(out, arg)
			maskNext = true
		default:
			out = append(out, redactURL(arg))
		}
	}
	return out
}

// redactURL masks the password portion of a user:password@host URL.
func redactURL(arg string) string {
	scheme, rest, ok := strings.Cut(arg, "://")
	if !ok {
		return arg
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return arg
	}
	user, _, ok := strings.Cut(creds, ":")
	if !ok {
		return arg
	}
	return scheme + "://" + user + ":********@" + host
}
