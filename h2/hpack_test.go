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

func TestHPackRoundTrip(t *testing.T) {
	hp := NewHPack()
	defer hp.Release()

	in := NewHeaders()
	in.Add(":status", "200")
	in.Add("server", "h2engine")
	in.Add("content-length", "0")
	in.Add("set-cookie", "a=1")
	in.Add("set-cookie", "b=2")

	encoded := hp.Encode(in)
	require.NotEmpty(t, encoded)

	out, err := hp.Decode(encoded)
	require.NoError(t, err)

	require.Len(t, out.All(), len(in.All()))
	for i, f := range in.All() {
		assert.Equal(t, f.Name, out.All()[i].Name)
		assert.Equal(t, f.Value, out.All()[i].Value)
	}
}

func TestHPackRoundTripAcrossMultipleFrames(t *testing.T) {
	// 同一对编解码器在连续多帧上使用 动态表状态必须延续
	hp := NewHPack()
	defer hp.Release()

	first := NewHeaders()
	first.Add(":status", "200")
	first.Add("content-type", "application/grpc")

	second := NewHeaders()
	second.Add(":status", "200")
	second.Add("content-type", "application/grpc")

	e1 := hp.Encode(first)
	e2 := hp.Encode(second)

	d1, err := hp.Decode(e1)
	require.NoError(t, err)
	d2, err := hp.Decode(e2)
	require.NoError(t, err)

	assert.Equal(t, first.All(), d1.All())
	assert.Equal(t, second.All(), d2.All())
}

func TestHeadersGetReturnsFirstMatch(t *testing.T) {
	h := NewHeaders()
	h.Add("x-foo", "1")
	h.Add("x-foo", "2")

	assert.Equal(t, "1", h.Get("x-foo"))
	assert.Equal(t, "", h.Get("x-missing"))
}

func TestIsSensitiveHeader(t *testing.T) {
	assert.True(t, isSensitiveHeader("cookie"))
	assert.True(t, isSensitiveHeader("authorization"))
	assert.False(t, isSensitiveHeader("content-type"))
}
