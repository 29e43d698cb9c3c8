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
	"github.com/stretchr/testify/require"
)

func TestStripHeadersPadding(t *testing.T) {
	t.Run("no padding flag is a no-op", func(t *testing.T) {
		b := []byte("hello")
		out, err := stripHeadersPadding(b, 0)
		require.NoError(t, err)
		assert.Equal(t, b, out)
	})

	t.Run("strips pad length octet and trailing padding", func(t *testing.T) {
		b := append([]byte{2}, append([]byte("hello"), 0, 0)...)
		out, err := stripHeadersPadding(b, FlagPadded)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), out)
	})

	t.Run("pad length exceeding payload is a connection error", func(t *testing.T) {
		b := []byte{10, 'h', 'i'}
		_, err := stripHeadersPadding(b, FlagPadded)
		require.Error(t, err)
		var ce *ConnError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, ErrCodeProtocol, ce.Code)
	})

	t.Run("missing pad length octet is a connection error", func(t *testing.T) {
		_, err := stripHeadersPadding(nil, FlagPadded)
		require.Error(t, err)
	})
}

func TestStripHeadersPriority(t *testing.T) {
	t.Run("no priority flag is a no-op", func(t *testing.T) {
		b := []byte("hello")
		out, err := stripHeadersPriority(b, 0)
		require.NoError(t, err)
		assert.Equal(t, b, out)
	})

	t.Run("strips the 5 byte priority prefix", func(t *testing.T) {
		b := append(make([]byte, 5), []byte("hello")...)
		out, err := stripHeadersPriority(b, FlagPriority)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), out)
	})

	t.Run("truncated priority fields is a connection error", func(t *testing.T) {
		_, err := stripHeadersPriority([]byte{1, 2, 3}, FlagPriority)
		require.Error(t, err)
	})
}

func TestHeaderBlockAssemblerInterleave(t *testing.T) {
	var a headerBlockAssembler

	assert.NoError(t, a.checkInterleave(FrameData, 1), "inactive assembler allows anything")

	a.begin(1)
	assert.NoError(t, a.checkInterleave(FrameContinuation, 1))

	err := a.checkInterleave(FrameData, 1)
	require.Error(t, err)
	var ce *ConnError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeProtocol, ce.Code)

	err = a.checkInterleave(FrameContinuation, 3)
	require.Error(t, err)

	a.finish()
	assert.NoError(t, a.checkInterleave(FrameData, 1))
}
