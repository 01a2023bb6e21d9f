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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/asshm/asshm/internal/core/domain"
)

const (
	sshConfigAliasField = "host"
	sshConfigHostField  = "hostname"
	sshConfigUserField  = "user"
	sshConfigPortField  = "port"
	sshConfigKeyField   = "identityfile"
)

// SSHConfigCodec converts between session records and OpenSSH config
// stanzas, so an existing ~/.ssh/config can seed a bulk import and a
// session set can be exported for plain ssh use. Only the connection
// fields survive the conversion; credentials never do.
type SSHConfigCodec struct{}

// ParseFile reads session definitions from an OpenSSH config file. A
// missing file yields an empty set.
func (c *SSHConfigCodec) ParseFile(path string) ([]domain.Session, error) {
	// #nosec G304 -- path is chosen by the user running the import
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Session{}, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return c.Parse(f)
}

// Parse reads session definitions from OpenSSH config stanzas. Wildcard
// Host patterns are skipped; they are match rules, not hosts.
func (c *SSHConfigCodec) Parse(r io.Reader) ([]domain.Session, error) {
	sessions := make([]domain.Session, 0)
	var current *domain.Session

	flush := func() {
		if current == nil {
			return
		}
		if !strings.ContainsAny(current.Name, "*?") {
			sessions = append(sessions, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value := c.parseKeyValue(line)
		if key == "" {
			continue
		}

		switch key {
		case sshConfigAliasField:
			flush()
			current = &domain.Session{Name: value}
		case sshConfigHostField:
			if current != nil {
				current.Host = value
			}
		case sshConfigUserField:
			if current != nil {
				current.Username = value
			}
		case sshConfigPortField:
			if current != nil {
				if port, err := strconv.Atoi(value); err == nil {
					current.Port = port
				}
			}
		case sshConfigKeyField:
			if current != nil {
				current.KeyFile = c.expandPath(value)
			}
		}
	}
	flush()

	return sessions, scanner.Err()
}

// Write renders sessions as OpenSSH config stanzas. Passwords and launch
// params have no OpenSSH equivalent and are omitted.
func (c *SSHConfigCodec) Write(w io.Writer, sessions []domain.Session) error {
	bufWriter := bufio.NewWriter(w)

	for i, session := range sessions {
		if i > 0 {
			if _, err := bufWriter.WriteString("\n"); err != nil {
				return err
			}
		}
		c.writeSession(bufWriter, session)
	}

	return bufWriter.Flush()
}

func (c *SSHConfigCodec) writeSession(w *bufio.Writer, session domain.Session) {
	fmt.Fprintf(w, "Host %s\n", session.Name)

	if session.Host != "" {
		fmt.Fprintf(w, "    HostName %s\n", session.Host)
	}
	if session.Username != "" {
		fmt.Fprintf(w, "    User %s\n", session.Username)
	}
	if session.Port != 0 && session.Port != domain.DefaultSSHPort {
		fmt.Fprintf(w, "    Port %d\n", session.Port)
	}
	if session.KeyFile != "" {
		fmt.Fprintf(w, "    IdentityFile %s\n", session.KeyFile)
	}
}

func (c *SSHConfigCodec) parseKeyValue(line string) (string, string) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", ""
	}

	key := strings.ToLower(parts[0])
	value := strings.Join(parts[1:], " ")
	return key, value
}

func (c *SSHConfigCodec) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
