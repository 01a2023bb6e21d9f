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

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/asshm/asshm/internal/core/ports"
)

type OSConfig struct {
	homeDir    string
	profileDir string
}

func NewOSConfig() ports.ConfigProvider {
	return NewOSConfigWithProfile("")
}

// NewOSConfigWithProfile uses profileDir as the data directory instead of
// the default ~/.asshm. A leading ~/ is expanded against the user's home.
func NewOSConfigWithProfile(profileDir string) ports.ConfigProvider {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	if strings.HasPrefix(profileDir, "~/") {
		profileDir = filepath.Join(home, profileDir[2:])
	}
	return &OSConfig{homeDir: home, profileDir: profileDir}
}

func (c *OSConfig) HomeDir() string {
	return c.homeDir
}

// DataPath resolves a file under the per-user profile directory.
func (c *OSConfig) DataPath(elems ...string) string {
	dir := c.profileDir
	if dir == "" {
		dir = filepath.Join(c.HomeDir(), ".asshm")
	}
	return filepath.Join(dir, filepath.Join(elems...))
}

func (c *OSConfig) LogPath(filename string) string {
	return c.DataPath("logs", filename)
}

func (c *OSConfig) GetEnvOrDefault(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}
