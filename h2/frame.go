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
	"encoding/binary"

	"github.com/packetd/h2engine/common"
)

// FrameType 是 HTTP/2 帧类型 (RFC 7540 §6) 常量块与字段布局直接来自
// packetd-packetd/protocol/phttp2/stream.go 的 frame* 常量 (该文件是一个被动
// 嗅探解析器使用的同名常量 这里复刻其取值 而不是它的解析逻辑: 被动解码器不持有
// 连接状态 我们是连接的一端 需要完整的读写两侧)
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return "UNKNOWN"
	}
}

// Frame flags, shared across the frame types that define them (RFC 7540 §6)
const (
	FlagEndStream  uint8 = 0x1
	FlagAck        uint8 = 0x1 // SETTINGS / PING: 同一个 bit 位 不同语义
	FlagEndHeaders uint8 = 0x4
	FlagPadded     uint8 = 0x8
	FlagPriority   uint8 = 0x20
)

// streamIDMask 屏蔽 31 位 Stream Identifier 字段的保留高位 (R bit)
const streamIDMask = 0x7fffffff

// maxPayloadLength 是 24 位 payload 长度字段能表示的最大值
const maxPayloadLength = 1<<24 - 1

// FrameHeader 是帧的 9 字节固定首部 (RFC 7540 §4.1) 的解析视图
//
//	+-----------------------------------------------+
//	|                 Length (24)                   |
//	+---------------+---------------+---------------+
//	|   Type (8)    |   Flags (8)   |
//	+-+-------------+---------------+-------------------------------+
//	|R|                 Stream Identifier (31)                      |
//	+-+-------------------------------------------------------------+
type FrameHeader struct {
	Length   uint32
	Type     FrameType
	Flags    uint8
	StreamID uint32
}

// Has 判断帧是否设置了给定 flag
func (fh FrameHeader) Has(flag uint8) bool {
	return fh.Flags&flag != 0
}

// ReadFrameHeader 从 b 的前 common.FrameHeaderLength 字节解析帧首部
//
// 调用方必须保证 len(b) >= common.FrameHeaderLength 这由上层 rx_buffer 的
// "凑够 9 字节再解析" 循环保证 (spec §4.3 Frame parsing)
func ReadFrameHeader(b []byte) FrameHeader {
	_ = b[common.FrameHeaderLength-1]
	length := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	streamID := binary.BigEndian.Uint32(b[5:9]) & streamIDMask
	return FrameHeader{
		Length:   length,
		Type:     FrameType(b[3]),
		Flags:    b[4],
		StreamID: streamID,
	}
}

// WriteFrameHeader 把 fh 编码进 dst 的前 common.FrameHeaderLength 字节
//
// 写侧总是把保留位清零 (spec §6 "Reserved high bit ... zero on write")
func WriteFrameHeader(dst []byte, fh FrameHeader) {
	_ = dst[common.FrameHeaderLength-1]
	dst[0] = byte(fh.Length >> 16)
	dst[1] = byte(fh.Length >> 8)
	dst[2] = byte(fh.Length)
	dst[3] = byte(fh.Type)
	dst[4] = fh.Flags
	binary.BigEndian.PutUint32(dst[5:9], fh.StreamID&streamIDMask)
}

// AppendFrame 把帧首部 + payload 追加到 dst 末尾并返回新的切片
// payload 长度超过 maxPayloadLength 时 panic: 调用方必须先按对端通告的
// SETTINGS_MAX_FRAME_SIZE 切分好再调用这里 这是编程错误而非运行期状况
func AppendFrame(dst []byte, typ FrameType, flags uint8, streamID uint32, payload []byte) []byte {
	if len(payload) > maxPayloadLength {
		panic("h2: frame payload exceeds 24-bit length field")
	}

	hdr := make([]byte, common.FrameHeaderLength)
	WriteFrameHeader(hdr, FrameHeader{
		Length:   uint32(len(payload)),
		Type:     typ,
		Flags:    flags,
		StreamID: streamID,
	})
	dst = append(dst, hdr...)
	dst = append(dst, payload...)
	return dst
}

// ConnPreface 是 h2c prior-knowledge 客户端前导序列 (RFC 7540 §3.5)
var ConnPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// SettingID 是 SETTINGS 帧负载中的参数 id (RFC 7540 §6.5.2)
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// settingEntryLength 是 SETTINGS 负载中每一个 (id, value) 条目的字节数
const settingEntryLength = 6

// Setting 是一个解析出的 SETTINGS 条目
type Setting struct {
	ID    SettingID
	Value uint32
}

// ParseSettings 把 SETTINGS 帧 payload 解析为一组 (id, value) 条目
//
// payload 长度不是 6 的整数倍时是 FRAME_SIZE_ERROR (RFC 7540 §6.5) 调用方负责
// 把这个条件映射为连接错误
func ParseSettings(payload []byte) ([]Setting, bool) {
	if len(payload)%settingEntryLength != 0 {
		return nil, false
	}

	settings := make([]Setting, 0, len(payload)/settingEntryLength)
	for i := 0; i < len(payload); i += settingEntryLength {
		settings = append(settings, Setting{
			ID:    SettingID(binary.BigEndian.Uint16(payload[i : i+2])),
			Value: binary.BigEndian.Uint32(payload[i+2 : i+6]),
		})
	}
	return settings, true
}

// AppendSetting 把一个 (id, value) 条目追加到 dst
func AppendSetting(dst []byte, id SettingID, value uint32) []byte {
	var buf [settingEntryLength]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(id))
	binary.BigEndian.PutUint32(buf[2:6], value)
	return append(dst, buf[:]...)
}
