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

	"github.com/packetd/h2engine/common"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fh   FrameHeader
	}{
		{"DATA no flags", FrameHeader{Length: 0, Type: FrameData, Flags: 0, StreamID: 1}},
		{"HEADERS end stream+headers", FrameHeader{Length: 128, Type: FrameHeaders, Flags: FlagEndStream | FlagEndHeaders, StreamID: 1}},
		{"SETTINGS stream 0", FrameHeader{Length: 18, Type: FrameSettings, Flags: 0, StreamID: 0}},
		{"max length and stream id", FrameHeader{Length: maxPayloadLength, Type: FrameGoAway, Flags: 0xff, StreamID: streamIDMask}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, common.FrameHeaderLength)
			WriteFrameHeader(buf, tt.fh)
			got := ReadFrameHeader(buf)
			assert.Equal(t, tt.fh, got)
		})
	}
}

func TestReadFrameHeaderMasksReservedBit(t *testing.T) {
	buf := make([]byte, common.FrameHeaderLength)
	WriteFrameHeader(buf, FrameHeader{Length: 4, Type: FrameWindowUpdate, Flags: 0, StreamID: 1})
	// 手动置位 R 比特 解析时必须被屏蔽掉
	buf[5] |= 0x80

	got := ReadFrameHeader(buf)
	assert.EqualValues(t, 1, got.StreamID)
}

func TestAppendFrame(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	out := AppendFrame(nil, FramePing, FlagAck, 0, payload)
	require.Len(t, out, common.FrameHeaderLength+len(payload))

	fh := ReadFrameHeader(out)
	assert.Equal(t, FramePing, fh.Type)
	assert.True(t, fh.Has(FlagAck))
	assert.Equal(t, uint32(0), fh.StreamID)
	assert.Equal(t, payload, out[common.FrameHeaderLength:])
}

func TestAppendFramePanicsOnOversizePayload(t *testing.T) {
	assert.Panics(t, func() {
		AppendFrame(nil, FrameData, 0, 1, make([]byte, maxPayloadLength+1))
	})
}

func TestParseSettings(t *testing.T) {
	var payload []byte
	payload = AppendSetting(payload, SettingInitialWindowSize, 131072)
	payload = AppendSetting(payload, SettingMaxFrameSize, 32768)

	settings, ok := ParseSettings(payload)
	require.True(t, ok)
	require.Len(t, settings, 2)
	assert.Equal(t, Setting{ID: SettingInitialWindowSize, Value: 131072}, settings[0])
	assert.Equal(t, Setting{ID: SettingMaxFrameSize, Value: 32768}, settings[1])
}

func TestParseSettingsRejectsMisalignedPayload(t *testing.T) {
	_, ok := ParseSettings([]byte{0x00, 0x01, 0x02})
	assert.False(t, ok)
}

func TestFrameTypeString(t *testing.T) {
	assert.Equal(t, "HEADERS", FrameHeaders.String())
	assert.Equal(t, "UNKNOWN", FrameType(0xff).String())
}
