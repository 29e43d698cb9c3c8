// Copyright 2025 The packetd Authors
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

package h2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceIDFromHeadersUsesTraceparent(t *testing.T) {
	h := NewHeaders()
	h.Add("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")

	id := traceIDFromHeaders(h)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", id)
}

func TestTraceIDFromHeadersFallsBackToRandom(t *testing.T) {
	h := NewHeaders()
	id := traceIDFromHeaders(h)
	assert.Len(t, id, 32)
}
