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
	"github.com/packetd/h2engine/common"
	"github.com/packetd/h2engine/internal/bufbytes"
)

// StreamState 是单条 Stream 的生命周期状态 (RFC 7540 §5.1 的精简版本:
// 服务端实现不需要区分 reserved(local)/reserved(remote) 因为本引擎不支持
// PUSH_PROMISE spec Non-goals 明确排除服务端推送)
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedRemote // 对端发送了 END_STREAM 我方仍可发送
	StreamHalfClosedLocal  // 我方发送了 END_STREAM 仍在等待对端
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamOpen:
		return "open"
	case StreamHalfClosedRemote:
		return "half_closed_remote"
	case StreamHalfClosedLocal:
		return "half_closed_local"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxHeaderBlockSize 限制单个 Stream 上累积 HEADERS+CONTINUATION 的 header
// block 总大小 防止对端通过无穷尽的 CONTINUATION 帧耗尽内存 (spec §7 Edge
// cases: unbounded CONTINUATION)
const maxHeaderBlockSize = 1 << 20

// Stream 持有单条 HTTP/2 流的状态: 生命周期 流级流控窗口 以及正在累积的请求
//
// 与 C++ 原型及 packetd-packetd 的合并窗口不同 这里把发送/接收方向的窗口分开
// 维护 (spec §9 的显式重设计): conn 级别的两个窗口在 Handler 中维护 这里
// 只保存 stream 级别的一对
type Stream struct {
	id    uint32
	state StreamState

	sendWindow int64 // 我方可以向这个 stream 发送的剩余字节数
	recvWindow int64 // 对端还可以向这个 stream 发送的剩余字节数 (我方通告)

	headerBlock *bufbytes.Bytes // 累积中的 HEADERS(+CONTINUATION) payload
	headersDone bool            // 是否已经收到 END_HEADERS

	reqHeaders *Headers
	reqBody    []byte
}

// newStream 创建一条处于 idle 状态的新流 初始窗口取自双方协商后的
// SETTINGS_INITIAL_WINDOW_SIZE
func newStream(id uint32, sendWindow, recvWindow int64) *Stream {
	return &Stream{
		id:          id,
		state:       StreamIdle,
		sendWindow:  sendWindow,
		recvWindow:  recvWindow,
		headerBlock: bufbytes.New(maxHeaderBlockSize),
	}
}

// ID 返回流标识符
func (s *Stream) ID() uint32 { return s.id }

// State 返回当前状态
func (s *Stream) State() StreamState { return s.state }

// appendHeaderFragment 累积一段 HEADERS/CONTINUATION payload (已去除 padding)
func (s *Stream) appendHeaderFragment(b []byte) error {
	return s.headerBlock.Write(b)
}

// headerBlockBytes 返回迄今累积的 header block 原始字节 供 HPACK 解码
func (s *Stream) headerBlockBytes() []byte {
	return s.headerBlock.Clone()
}

// resetHeaderBlock 在一个 header block 被消费 (解码) 之后清空累积区
func (s *Stream) resetHeaderBlock() {
	s.headerBlock.Reset()
	s.headersDone = false
}

// onEndStreamFromRemote 对端在这条流上发送了 END_STREAM 之后的状态迁移
func (s *Stream) onEndStreamFromRemote() {
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedRemote
	case StreamHalfClosedLocal:
		s.state = StreamClosed
	}
}

// onEndStreamFromLocal 我方在这条流上发送了 END_STREAM 之后的状态迁移
func (s *Stream) onEndStreamFromLocal() {
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.state = StreamClosed
	}
}

// canReceiveFrames 判断是否还能接受来自对端的帧 (非 HEADERS/PRIORITY)
func (s *Stream) canReceiveFrames() bool {
	return s.state != StreamClosed && s.state != StreamHalfClosedRemote
}

// consumeSendWindow 在向这条流发送 n 字节 DATA 前扣减发送窗口
// 窗口不足时返回 false 调用方应当把剩余数据留到下一次 WINDOW_UPDATE 之后再发
func (s *Stream) consumeSendWindow(n int64) bool {
	if n > s.sendWindow {
		return false
	}
	s.sendWindow -= n
	return true
}

// increaseSendWindow 应用一次 WINDOW_UPDATE 对发送窗口的增量
//
// 增量会使窗口超过 2^31-1 时是 FLOW_CONTROL_ERROR (RFC 7540 §6.9.1)
func (s *Stream) increaseSendWindow(delta int32) bool {
	next := s.sendWindow + int64(delta)
	if next > common.MaxWindowSize {
		return false
	}
	s.sendWindow = next
	return true
}

// consumeRecvWindow 在收到 n 字节 DATA 后扣减我方通告的接收窗口
func (s *Stream) consumeRecvWindow(n int64) bool {
	if n > s.recvWindow {
		return false
	}
	s.recvWindow -= n
	return true
}

// replenishRecvWindow 在向对端发送 WINDOW_UPDATE 之后恢复接收窗口的额度
func (s *Stream) replenishRecvWindow(n int64) {
	s.recvWindow += n
}
