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
	"bufio"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyFormat classifies a private-key file.
type KeyFormat string

const (
	KeyFormatPPK     KeyFormat = "ppk"
	KeyFormatOpenSSH KeyFormat = "openssh"
	KeyFormatPEM     KeyFormat = "pem"
	KeyFormatUnknown KeyFormat = "unknown"
)

// IsPPKFile reports whether the path looks like a PuTTY private key, the
// only format the terminal client accepts.
func IsPPKFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".ppk")
}

// InspectKeyFormat classifies a key file so validation errors can tell the
// user what they actually have. The leading line decides the common cases;
// anything else gets one authoritative parse attempt.
func InspectKeyFormat(path string) KeyFormat {
	// #nosec G304 -- path comes from the user's own session record
	f, err := os.Open(path)
	if err != nil {
		return KeyFormatUnknown
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		firstLine := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(firstLine, "PuTTY-User-Key-File"):
			return KeyFormatPPK
		case strings.Contains(firstLine, "BEGIN OPENSSH PRIVATE KEY"):
			return KeyFormatOpenSSH
		case strings.Contains(firstLine, "BEGIN RSA PRIVATE KEY"),
			strings.Contains(firstLine, "BEGIN DSA PRIVATE KEY"),
			strings.Contains(firstLine, "BEGIN EC PRIVATE KEY"):
			return KeyFormatPEM
		}
	}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return KeyFormatUnknown
	}
	if _, err := ssh.ParseRawPrivateKey(data); err == nil {
		return KeyFormatOpenSSH
	}
	return KeyFormatUnknown
}

// KeyFormatHint renders a conversion hint for a rejected key file.
func KeyFormatHint(format KeyFormat) string {
	switch format {
	case KeyFormatOpenSSH, KeyFormatPEM:
		return "convert it with PuTTYgen (Load, then Save private key)"
	default:
		return "provide a PuTTY .ppk private key"
	}
}
