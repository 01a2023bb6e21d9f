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

import "fmt"

// ValidationError reports a rejected record. Rejected records are never
// persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an operation targeting an absent key.
type NotFoundError struct {
	Kind string // "session", "address", "subnet"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// CorruptStoreError reports an unreadable or malformed persisted document.
// The in-memory state of the store is left untouched; the caller decides
// whether to start from an empty store or abort.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt store document %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

// UnsupportedToolError reports a credential/tool mismatch discovered while
// building a launch invocation.
type UnsupportedToolError struct {
	Tool   Tool
	Reason string
}

func (e *UnsupportedToolError) Error() string {
	return fmt.Sprintf("tool %s cannot launch this session: %s", e.Tool, e.Reason)
}

// LaunchError reports that an external process could not be started. It is
// surfaced to the caller and never retried automatically.
type LaunchError struct {
	Tool Tool
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Tool, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
