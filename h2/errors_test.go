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

func TestConnErrorMessage(t *testing.T) {
	err := NewConnError(ErrCodeFlowControl, "window update increment %d invalid", 0)
	assert.Equal(t, ErrCodeFlowControl, err.Code)
	assert.Contains(t, err.Error(), "FLOW_CONTROL_ERROR")
	assert.Contains(t, err.Error(), "window update increment 0 invalid")
}

func TestStreamErrorMessage(t *testing.T) {
	err := NewStreamError(3, ErrCodeStreamClosed, "frame on closed stream")
	assert.EqualValues(t, 3, err.StreamID)
	assert.Contains(t, err.Error(), "STREAM_CLOSED")
	assert.Contains(t, err.Error(), "stream 3")
}

func TestErrCodeStringUnknown(t *testing.T) {
	assert.Equal(t, "ERR_CODE(999)", ErrCode(999).String())
}
