// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expgram

import (
	"errors"
	"fmt"
)

// Error kinds the core distinguishes. Wrap one of these with fmt.Errorf's
// %w so callers can still errors.Is against the kind.
var (
	// ErrCorruptedIndex covers header/size mismatches, a missing select
	// sample, or any other bit-vector/packed-array invariant violation.
	ErrCorruptedIndex = errors.New("expgram: corrupted index")

	// ErrVersionMismatch is returned when prop.list names a model-kind
	// this build doesn't recognize.
	ErrVersionMismatch = errors.New("expgram: version mismatch")

	// ErrIOFailure wraps an underlying read/write error that must be
	// propagated rather than treated as a missing n-gram.
	ErrIOFailure = errors.New("expgram: io failure")

	// ErrInvalidArgument covers queries against an unopened index or a
	// state buffer too small for the declared order.
	ErrInvalidArgument = errors.New("expgram: invalid argument")

	// ErrIncompleteIndex is returned by OpenIndex when the repository
	// directory has no "done" sentinel file.
	ErrIncompleteIndex = errors.New("expgram: incomplete index")
)

// internalInvariant panics with a diagnostic; reserved for states the data
// model proves cannot occur (spec's InternalInvariant kind). Go has no
// recoverable "abort the process" distinct from panic, so this is that.
func internalInvariant(format string, args ...any) {
	panic("expgram: internal invariant violated: " + fmt.Sprintf(format, args...))
}
