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

// stripHeadersPadding 剥离 HEADERS/PUSH_PROMISE payload 的 Pad Length 字段与
// 末尾填充字节 移植自 packetd-packetd/protocol/phttp2/stream.go 的
// decodeHeaderFrame 同名逻辑
func stripHeadersPadding(b []byte, flags uint8) ([]byte, error) {
	if flags&FlagPadded == 0 {
		return b, nil
	}
	if len(b) < 1 {
		return nil, NewConnError(ErrCodeProtocol, "HEADERS: missing pad length octet")
	}
	padLen := int(b[0])
	b = b[1:]
	if padLen > len(b) {
		return nil, NewConnError(ErrCodeProtocol, "HEADERS: pad length exceeds payload")
	}
	return b[:len(b)-padLen], nil
}

// stripHeadersPriority 剥离 HEADERS payload 中可选的 5 字节优先级前缀
// (E + Stream Dependency (31) + Weight (8)) 本引擎不实现优先级调度 所以只是
// 跳过这 5 个字节 不保留其值
func stripHeadersPriority(b []byte, flags uint8) ([]byte, error) {
	if flags&FlagPriority == 0 {
		return b, nil
	}
	if len(b) < 5 {
		return nil, NewConnError(ErrCodeProtocol, "HEADERS: truncated priority fields")
	}
	return b[5:], nil
}

// headerBlockAssembler 在连接层面跟踪正在被拼接的 HEADERS(+CONTINUATION)
// header block 解决 CONTINUATION 的缓冲策略:
// 在 END_HEADERS 到达前持续缓冲所有后续 CONTINUATION 帧的 payload; 在此期间
// 收到任何其它帧类型 或者 stream id 与当前正在拼接的不一致的帧 都是连接错误
// (PROTOCOL_ERROR) 这是对 RFC 7540 §6.10 "no other frames can be interspersed"
// 约束最直接的落地方式
type headerBlockAssembler struct {
	active   bool
	streamID uint32
}

// begin 在收到一个没有设置 END_HEADERS 的 HEADERS 帧时记录正在拼接的流
func (a *headerBlockAssembler) begin(streamID uint32) {
	a.active = true
	a.streamID = streamID
}

// finish 在 END_HEADERS 到达后清空拼接状态
func (a *headerBlockAssembler) finish() {
	a.active = false
	a.streamID = 0
}

// checkInterleave 校验收到的帧是否违反了"拼接期间不得穿插其它帧"的约束
func (a *headerBlockAssembler) checkInterleave(typ FrameType, streamID uint32) error {
	if !a.active {
		return nil
	}
	if typ != FrameContinuation || streamID != a.streamID {
		return NewConnError(ErrCodeProtocol,
			"frame %s on stream %d interleaved with in-progress header block on stream %d",
			typ, streamID, a.streamID)
	}
	return nil
}
