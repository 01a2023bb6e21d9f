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
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/asshm/asshm/internal/core/domain"
)

// ConfigManager loads and saves the application configuration as YAML.
type ConfigManager struct {
	filePath string
}

func NewConfigManager(filePath string) *ConfigManager {
	return &ConfigManager{filePath: filePath}
}

func (cm *ConfigManager) Load() (domain.Config, error) {
	// If the config file doesn't exist, create the defaults and save them
	if _, err := os.Stat(cm.filePath); os.IsNotExist(err) {
		defaultConfig := domain.DefaultConfig()
		if saveErr := cm.Save(defaultConfig); saveErr != nil {
			// If we can't save, still return the default config
			return defaultConfig, nil
		}
		return defaultConfig, nil
	}

	data, err := os.ReadFile(cm.filePath)
	if err != nil {
		return domain.DefaultConfig(), err
	}

	config := domain.DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return domain.DefaultConfig(), err
	}

	return config, nil
}

func (cm *ConfigManager) Save(config domain.Config) error {
	if err := os.MkdirAll(filepath.Dir(cm.filePath), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(cm.filePath, data, 0o600)
}
