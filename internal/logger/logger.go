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

package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the application logger writing to a rotated file. The returned
// level starts at info (debug when <envPrefix>_DEBUG is truthy) and can be
// raised later, e.g. from a --debug flag.
func New(envPrefix, logFile string) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		LocalTime:  true,
		MaxBackups: 10,
		MaxSize:    10, // megabytes
	})

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	switch strings.ToLower(os.Getenv(envPrefix + "_DEBUG")) {
	case "1", "true", "yes":
		level.SetLevel(zapcore.DebugLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, level)
	return zap.New(core, zap.AddCaller()).Sugar(), level, nil
}
