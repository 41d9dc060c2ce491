// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logics

import (
	"github.com/juju/errors"
)

const (
	// ErrValidation marks malformed input. Callers must not retry it.
	ErrValidation = errors.NotValid
	// ErrUpstreamUnavailable marks a failed store call that had no fallback.
	ErrUpstreamUnavailable = errors.ConstError("upstream unavailable")
)

func validationf(format string, args ...any) error {
	return errors.WithType(errors.Errorf(format, args...), ErrValidation)
}

func upstream(err error, message string) error {
	return errors.WithType(errors.Annotate(err, message), ErrUpstreamUnavailable)
}
