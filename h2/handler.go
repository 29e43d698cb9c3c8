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
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/packetd/h2engine/common"
	"github.com/packetd/h2engine/internal/fasttime"
	"github.com/packetd/h2engine/internal/rescue"
	"github.com/packetd/h2engine/internal/zerocopy"
	"github.com/packetd/h2engine/logger"
	"github.com/packetd/h2engine/pipeline"
)

// connState 是连接级别的状态机 移植自
// original_source/src/server/net/http2_channel_handler.cpp 的
// State::CONNECTION/READING/FAILED
type connState int

const (
	stateConnection connState = iota // 等待 24 字节的 connection preface
	stateReading
	stateFailed
)

// Config 配置一个 Handler 的行为
type Config struct {
	Dispatcher           Dispatcher
	MaxFrameSize         uint32
	InitialWindowSize    uint32
	MaxConcurrentStreams uint32
}

// withDefaults 补全未设置的字段
func (c Config) withDefaults() Config {
	if c.Dispatcher == nil {
		c.Dispatcher = EchoDispatcher
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = common.DefaultMaxFrameSize
	}
	if c.InitialWindowSize == 0 {
		c.InitialWindowSize = common.DefaultInitialWindowSize
	}
	if c.MaxConcurrentStreams == 0 {
		c.MaxConcurrentStreams = common.DefaultMaxConcurrentStreams
	}
	return c
}

// Handler 实现一个完整的服务端 HTTP/2 连接: 帧解析 HPACK 编解码 流状态机
// 流控窗口与对 Dispatcher 的调用 是挂载到 pipeline.Pipeline 链尾的终端 Handler
//
// 连接的状态 (rx 累积区/streams/两个连接级窗口) 全部由 mu 保护; Dispatcher 的
// 实际调用被显式地移出这把锁 (spec §4.3/§9 的重设计): processFrames 只负责
// 解析出一个完整的 Request 后另起一个 goroutine 调用 Dispatcher 回来之后再
// 重新获取 mu 编码/发送响应 这样一个慢 Dispatcher 不会卡住同一连接上其它流的
// 帧解析
type Handler struct {
	pipeline.BaseHandler

	id  string
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	state    connState
	rx       []byte
	hp       *HPack
	streams  map[uint32]*Stream
	lastPeer uint32 // 对端发起的最大 stream id
	assembler headerBlockAssembler

	connSendWindow int64
	connRecvWindow int64

	// peerInitialWindowSize 是新建流的初始发送窗口 起始值取自 cfg.InitialWindowSize
	// 会在对端发来 SETTINGS_INITIAL_WINDOW_SIZE 时被更新 (RFC 7540 §6.9.2:
	// 这个参数只影响"我方向对端发送数据"这一侧的窗口 新建流套用当前值 已存在的流
	// 按新旧值之差整体调整 见 handleSettings)
	peerInitialWindowSize uint32

	peerMaxFrameSize uint32
	goAwaySent       bool
	peerGoAway       bool
	settingsSent     bool

	lastActivity int64
}

// NewHandler 创建一条新连接的 Handler
func NewHandler(cfg Config) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		id:                    uuid.New().String(),
		cfg:                   cfg,
		state:                 stateConnection,
		hp:                    NewHPack(),
		streams:               make(map[uint32]*Stream),
		connSendWindow:        int64(common.DefaultInitialWindowSize),
		connRecvWindow:        int64(common.DefaultInitialWindowSize),
		peerInitialWindowSize: cfg.InitialWindowSize,
		peerMaxFrameSize:      common.DefaultMaxFrameSize,
		lastActivity:          fasttime.UnixTimestamp(),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// ID 返回这条连接的唯一标识 用于日志关联
func (h *Handler) ID() string { return h.id }

// LastActivity 返回最近一次收到数据的 unix 时间戳 供空闲连接回收器使用
func (h *Handler) LastActivity() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

// OnRead 实现 pipeline.Handler: 累积入站字节并在 Reading 状态下解析出完整帧
func (h *Handler) OnRead(ctx *pipeline.HandlerContext, buf zerocopy.Buffer) {
	b, err := buf.Read(math.MaxInt32)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.lastActivity = fasttime.UnixTimestamp()

	if h.state == stateFailed {
		h.mu.Unlock()
		return
	}

	h.rx = append(h.rx, b...)

	if h.state == stateConnection {
		if !h.consumePreface() {
			failed := h.state == stateFailed
			h.mu.Unlock()
			if failed {
				_ = ctx.Pipeline().Close()
			}
			return
		}
		h.sendInitialSettingsLocked(ctx)
	}

	connErr := h.processFrames(ctx)
	h.mu.Unlock()

	if connErr != nil {
		h.fail(ctx, connErr)
	}
}

// OnClose 实现 pipeline.Handler: 连接关闭时释放 HPACK 资源并唤醒所有在等待
// 发送窗口的响应 goroutine (避免它们永远阻塞在 h.cond.Wait 上)
func (h *Handler) OnClose(ctx *pipeline.HandlerContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = stateFailed
	if h.hp != nil {
		h.hp.Release()
		h.hp = nil
	}
	h.cond.Broadcast()
}

// consumePreface 消费 24 字节的 connection preface 调用方必须持有 h.mu
// 字节不够时直接返回等待下一次 OnRead 对应
// original_source 的 onChannelReadConnectionState
func (h *Handler) consumePreface() bool {
	if len(h.rx) < len(ConnPreface) {
		return false
	}
	if !bytes.Equal(h.rx[:len(ConnPreface)], ConnPreface) {
		logger.Warnf("h2[%s]: connection preface mismatch, closing", h.id)
		h.state = stateFailed
		return false
	}
	h.rx = h.rx[len(ConnPreface):]
	h.state = stateReading
	return true
}

// sendInitialSettingsLocked 在 preface 通过校验之后立即通告我方的 SETTINGS
// (RFC 7540 §3.5: "This sequence MUST be followed by a SETTINGS frame")
// 调用方必须持有 h.mu
func (h *Handler) sendInitialSettingsLocked(ctx *pipeline.HandlerContext) {
	if h.settingsSent {
		return
	}
	h.settingsSent = true

	var payload []byte
	payload = AppendSetting(payload, SettingMaxFrameSize, h.cfg.MaxFrameSize)
	payload = AppendSetting(payload, SettingInitialWindowSize, h.cfg.InitialWindowSize)
	payload = AppendSetting(payload, SettingMaxConcurrentStreams, h.cfg.MaxConcurrentStreams)

	frame := AppendFrame(nil, FrameSettings, 0, 0, payload)
	_ = h.writeLocked(ctx, frame)
}

// processFrames 从 h.rx 中解析出所有已完整到达的帧并逐个处理 调用方必须持有
// h.mu 对应 original_source 的 processFrames/processNextFrame 循环
func (h *Handler) processFrames(ctx *pipeline.HandlerContext) *ConnError {
	offset := 0
	for len(h.rx)-offset >= common.FrameHeaderLength {
		fh := ReadFrameHeader(h.rx[offset:])
		total := common.FrameHeaderLength + int(fh.Length)
		if len(h.rx)-offset < total {
			break
		}

		payload := h.rx[offset+common.FrameHeaderLength : offset+total]
		if err := h.handleFrame(ctx, fh, payload); err != nil {
			offset += total
			h.rx = append(h.rx[:0], h.rx[offset:]...)
			return toConnError(err)
		}
		offset += total
	}
	h.rx = append(h.rx[:0], h.rx[offset:]...)
	return nil
}

func toConnError(err error) *ConnError {
	if ce, ok := err.(*ConnError); ok {
		return ce
	}
	return NewConnError(ErrCodeInternal, "%v", err)
}

// handleFrame 按类型分发单个已完整到达的帧 调用方必须持有 h.mu
func (h *Handler) handleFrame(ctx *pipeline.HandlerContext, fh FrameHeader, payload []byte) error {
	if err := h.assembler.checkInterleave(fh.Type, fh.StreamID); err != nil {
		return err
	}

	switch fh.Type {
	case FrameSettings:
		return h.handleSettings(ctx, fh, payload)
	case FramePing:
		return h.handlePing(ctx, fh, payload)
	case FrameWindowUpdate:
		return h.handleWindowUpdate(ctx, fh, payload)
	case FrameHeaders:
		return h.handleHeaders(ctx, fh, payload)
	case FrameContinuation:
		return h.handleContinuation(ctx, fh, payload)
	case FrameData:
		return h.handleData(ctx, fh, payload)
	case FrameRSTStream:
		return h.handleRSTStream(fh, payload)
	case FramePriority:
		return h.handlePriority(fh, payload)
	case FrameGoAway:
		h.peerGoAway = true
		logger.Infof("h2[%s]: received GOAWAY from peer", h.id)
		return nil
	case FramePushPromise:
		return NewConnError(ErrCodeProtocol, "PUSH_PROMISE is not accepted from a client")
	default:
		// 未知帧类型必须被忽略 (RFC 7540 §4.1)
		return nil
	}
}

// requireStreamID0 校验只能出现在连接级 (stream id 0) 的帧
func requireStreamID0(typ FrameType, streamID uint32) error {
	if streamID != 0 {
		return NewConnError(ErrCodeProtocol, "%s must be sent on stream 0, got %d", typ, streamID)
	}
	return nil
}

// requireStreamIDNonZero 校验只能出现在具体流上的帧
func requireStreamIDNonZero(typ FrameType, streamID uint32) error {
	if streamID == 0 {
		return NewConnError(ErrCodeProtocol, "%s must not be sent on stream 0", typ)
	}
	return nil
}

func (h *Handler) handleSettings(ctx *pipeline.HandlerContext, fh FrameHeader, payload []byte) error {
	if err := requireStreamID0(fh.Type, fh.StreamID); err != nil {
		return err
	}
	if fh.Has(FlagAck) {
		return nil
	}

	settings, ok := ParseSettings(payload)
	if !ok {
		return NewConnError(ErrCodeFrameSize, "SETTINGS payload length is not a multiple of 6")
	}
	for _, s := range settings {
		switch s.ID {
		case SettingInitialWindowSize:
			if s.Value > common.MaxWindowSize {
				return NewConnError(ErrCodeFlowControl, "SETTINGS_INITIAL_WINDOW_SIZE out of range")
			}
			h.applyInitialWindowSizeLocked(ctx, s.Value)
		case SettingHeaderTableSize:
			h.hp.SetMaxEncodeTableSize(s.Value)
		case SettingMaxFrameSize:
			if s.Value < common.DefaultMaxFrameSize || s.Value > maxPayloadLength {
				return NewConnError(ErrCodeProtocol, "SETTINGS_MAX_FRAME_SIZE out of range")
			}
			h.peerMaxFrameSize = s.Value
		}
	}

	// ACK 我方收到的 SETTINGS (RFC 7540 §6.5 每次 SETTINGS 恰好回一次 ACK)
	frame := AppendFrame(nil, FrameSettings, FlagAck, 0, nil)
	_ = h.writeLocked(ctx, frame)
	return nil
}

// applyInitialWindowSizeLocked 应用对端新通告的 SETTINGS_INITIAL_WINDOW_SIZE
// 这个值只影响我方向对端发送数据使用的窗口: 新建流套用新值 已存在的流按新旧值
// 之差整体调整 (RFC 7540 §6.9.2) 调整导致某条流的发送窗口溢出时只复位那条流
// 而不是把整个连接判为协议错误 调用方必须持有 h.mu
func (h *Handler) applyInitialWindowSizeLocked(ctx *pipeline.HandlerContext, newValue uint32) {
	delta := int64(newValue) - int64(h.peerInitialWindowSize)
	h.peerInitialWindowSize = newValue
	if delta == 0 {
		return
	}
	for _, s := range h.streams {
		if !s.increaseSendWindow(int32(delta)) {
			_ = h.resetStream(ctx, s, ErrCodeFlowControl, "SETTINGS_INITIAL_WINDOW_SIZE adjustment overflowed send window")
		}
	}
	h.cond.Broadcast()
}

func (h *Handler) handlePing(ctx *pipeline.HandlerContext, fh FrameHeader, payload []byte) error {
	if err := requireStreamID0(fh.Type, fh.StreamID); err != nil {
		return err
	}
	if len(payload) != 8 {
		return NewConnError(ErrCodeFrameSize, "PING payload must be 8 bytes")
	}
	if fh.Has(FlagAck) {
		return nil
	}
	frame := AppendFrame(nil, FramePing, FlagAck, 0, payload)
	_ = h.writeLocked(ctx, frame)
	return nil
}

func (h *Handler) handleWindowUpdate(ctx *pipeline.HandlerContext, fh FrameHeader, payload []byte) error {
	if len(payload) != 4 {
		return NewConnError(ErrCodeFrameSize, "WINDOW_UPDATE payload must be 4 bytes")
	}
	increment := int32(binary.BigEndian.Uint32(payload) & streamIDMask)

	if fh.StreamID == 0 {
		if increment == 0 {
			return NewConnError(ErrCodeFlowControl, "WINDOW_UPDATE increment of 0 on connection")
		}
		next := h.connSendWindow + int64(increment)
		if next > common.MaxWindowSize {
			return NewConnError(ErrCodeFlowControl, "connection send window overflow")
		}
		h.connSendWindow = next
		h.cond.Broadcast()
		return nil
	}

	stream, ok := h.streams[fh.StreamID]
	if !ok {
		return nil // 流已经关闭 忽略迟到的 WINDOW_UPDATE
	}
	if increment == 0 {
		return h.resetStream(ctx, stream, ErrCodeFlowControl, "WINDOW_UPDATE increment of 0")
	}
	if !stream.increaseSendWindow(increment) {
		return h.resetStream(ctx, stream, ErrCodeFlowControl, "stream send window overflow")
	}
	h.cond.Broadcast()
	return nil
}

func (h *Handler) handlePriority(fh FrameHeader, payload []byte) error {
	if err := requireStreamIDNonZero(fh.Type, fh.StreamID); err != nil {
		return err
	}
	if len(payload) != 5 {
		return NewConnError(ErrCodeFrameSize, "PRIORITY payload must be 5 bytes")
	}
	// 本引擎不实现优先级调度 仅校验帧格式然后丢弃 与
	// original_source processFrameHeaders 对待优先级字段的方式一致: 解析出来
	// 只是记录/打印 不会据此改变发送顺序
	return nil
}

func (h *Handler) handleRSTStream(fh FrameHeader, payload []byte) error {
	if err := requireStreamIDNonZero(fh.Type, fh.StreamID); err != nil {
		return err
	}
	if len(payload) != 4 {
		return NewConnError(ErrCodeFrameSize, "RST_STREAM payload must be 4 bytes")
	}
	if stream, ok := h.streams[fh.StreamID]; ok {
		stream.state = StreamClosed
		delete(h.streams, stream.id)
	}
	return nil
}

// reapIfClosed 在一次状态迁移之后检查流是否已经到达 Closed 如果是则把它从
// h.streams 中摘除 RFC 7540 的 MAX_CONCURRENT_STREAMS 约束的是并发存活的流数
// 而不是连接的累计生命周期请求数 (spec Data Model: "destroyed when state
// reaches CLOSED") 不摘除的话 getOrCreateStream 的准入检查会把一条长连接上
// 服务过的请求总数当成并发数 连接服务满 MaxConcurrentStreams 次请求后就会把
// 所有后续 HEADERS 都当成 REFUSED_STREAM 进而拖垮整条连接
func (h *Handler) reapIfClosed(stream *Stream) {
	if stream.state == StreamClosed {
		delete(h.streams, stream.id)
	}
}

// getOrCreateStream 返回给定 stream id 对应的 Stream 必要时新建
//
// 已经存在且不处于 Idle 状态的流上又到来一个起始 HEADERS (而非 CONTINUATION)
// 是协议错误: 调用方已经通过 assembler 排除了 CONTINUATION 插入的可能 这里捕获
// 的是"对同一个流重复发起请求"的情形 (spec §8 testable property)
func (h *Handler) getOrCreateStream(streamID uint32) (*Stream, error) {
	if streamID == 0 || streamID%2 == 0 {
		return nil, NewConnError(ErrCodeProtocol, "client streams must have odd, non-zero ids, got %d", streamID)
	}

	if s, ok := h.streams[streamID]; ok {
		if s.state != StreamIdle {
			return nil, NewConnError(ErrCodeProtocol, "duplicate HEADERS on stream %d in state %s", streamID, s.state)
		}
		return s, nil
	}

	if streamID <= h.lastPeer {
		return nil, NewConnError(ErrCodeProtocol, "stream id %d is not greater than the last one seen (%d)", streamID, h.lastPeer)
	}
	if uint32(len(h.streams)) >= h.cfg.MaxConcurrentStreams {
		return nil, NewConnError(ErrCodeRefusedStream, "max concurrent streams exceeded")
	}

	h.lastPeer = streamID
	s := newStream(streamID, int64(h.peerInitialWindowSize), int64(h.cfg.InitialWindowSize))
	h.streams[streamID] = s
	return s, nil
}

func (h *Handler) handleHeaders(ctx *pipeline.HandlerContext, fh FrameHeader, payload []byte) error {
	if err := requireStreamIDNonZero(fh.Type, fh.StreamID); err != nil {
		return err
	}

	stream, err := h.getOrCreateStream(fh.StreamID)
	if err != nil {
		return err
	}
	stream.state = StreamOpen

	b, err := stripHeadersPadding(payload, fh.Flags)
	if err != nil {
		return err
	}
	b, err = stripHeadersPriority(b, fh.Flags)
	if err != nil {
		return err
	}
	if err := stream.appendHeaderFragment(b); err != nil {
		return h.resetStream(ctx, stream, ErrCodeInternal, "header block too large")
	}

	if fh.Has(FlagEndStream) {
		stream.onEndStreamFromRemote()
		h.reapIfClosed(stream)
	}

	if !fh.Has(FlagEndHeaders) {
		h.assembler.begin(fh.StreamID)
		return nil
	}
	return h.finishHeaderBlock(ctx, stream)
}

func (h *Handler) handleContinuation(ctx *pipeline.HandlerContext, fh FrameHeader, payload []byte) error {
	if err := requireStreamIDNonZero(fh.Type, fh.StreamID); err != nil {
		return err
	}
	stream, ok := h.streams[fh.StreamID]
	if !ok {
		return NewConnError(ErrCodeProtocol, "CONTINUATION on unknown stream %d", fh.StreamID)
	}
	if err := stream.appendHeaderFragment(payload); err != nil {
		return h.resetStream(ctx, stream, ErrCodeInternal, "header block too large")
	}
	if !fh.Has(FlagEndHeaders) {
		return nil
	}
	h.assembler.finish()
	return h.finishHeaderBlock(ctx, stream)
}

// finishHeaderBlock 在 END_HEADERS 到达后解码累积的 header block 并在
// END_STREAM 也已经到达的情况下把请求派发给 Dispatcher
func (h *Handler) finishHeaderBlock(ctx *pipeline.HandlerContext, stream *Stream) error {
	headers, err := h.hp.Decode(stream.headerBlockBytes())
	stream.resetHeaderBlock()
	if err != nil {
		return NewConnError(ErrCodeCompression, "hpack decode: %v", err)
	}
	stream.reqHeaders = headers

	if stream.state == StreamHalfClosedRemote || stream.state == StreamClosed {
		h.dispatchAsync(ctx, stream)
	}
	return nil
}

func (h *Handler) handleData(ctx *pipeline.HandlerContext, fh FrameHeader, payload []byte) error {
	if err := requireStreamIDNonZero(fh.Type, fh.StreamID); err != nil {
		return err
	}

	stream, ok := h.streams[fh.StreamID]
	if !ok {
		return NewConnError(ErrCodeProtocol, "DATA on unknown stream %d", fh.StreamID)
	}
	if !stream.canReceiveFrames() {
		return h.resetStream(ctx, stream, ErrCodeStreamClosed, "DATA received on closed stream")
	}

	n := int64(len(payload))
	if !stream.consumeRecvWindow(n) || n > h.connRecvWindow {
		return NewConnError(ErrCodeFlowControl, "DATA exceeds advertised flow-control window")
	}
	h.connRecvWindow -= n

	b, err := stripHeadersPadding(payload, fh.Flags)
	if err != nil {
		return err
	}
	stream.reqBody = append(stream.reqBody, b...)

	// 简单的自动补发策略: 每次收到 DATA 立即把窗口补满 不做节流 本引擎面向
	// 请求/响应式的工作负载 不追求对慢客户端做背压
	stream.replenishRecvWindow(n)
	h.connRecvWindow += n
	h.sendWindowUpdate(ctx, fh.StreamID, uint32(n))
	h.sendWindowUpdate(ctx, 0, uint32(n))

	if fh.Has(FlagEndStream) {
		stream.onEndStreamFromRemote()
		h.reapIfClosed(stream)
		h.dispatchAsync(ctx, stream)
	}
	return nil
}

func (h *Handler) sendWindowUpdate(ctx *pipeline.HandlerContext, streamID uint32, increment uint32) {
	if increment == 0 {
		return
	}
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], increment&streamIDMask)
	frame := AppendFrame(nil, FrameWindowUpdate, 0, streamID, payload[:])
	_ = h.writeLocked(ctx, frame)
}

// resetStream 发送 RST_STREAM 并把流标记为已关闭 这是 spec §7 中
// "流级错误不应终止连接" 约束的落地: 与 ConnError 不同 这里返回 nil 使
// processFrames 继续处理同一连接上的后续帧
func (h *Handler) resetStream(ctx *pipeline.HandlerContext, stream *Stream, code ErrCode, format string, args ...any) error {
	logger.Warnf("h2[%s]: resetting stream %d: %s", h.id, stream.id, NewStreamError(stream.id, code, format, args...).Error())
	stream.state = StreamClosed
	delete(h.streams, stream.id)

	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], uint32(code))
	frame := AppendFrame(nil, FrameRSTStream, 0, stream.id, payload[:])
	_ = h.writeLocked(ctx, frame)
	return nil
}

// dispatchAsync 另起一个 goroutine 调用 Dispatcher 这发生在 h.mu 之外
// (spec §4.3/§9): Dispatcher 返回后重新获取锁编码并发送响应
func (h *Handler) dispatchAsync(ctx *pipeline.HandlerContext, stream *Stream) {
	req := &Request{
		StreamID:  stream.id,
		Method:    stream.reqHeaders.Get(":method"),
		Scheme:    stream.reqHeaders.Get(":scheme"),
		Path:      stream.reqHeaders.Get(":path"),
		Authority: stream.reqHeaders.Get(":authority"),
		Header:    stream.reqHeaders,
		Body:      stream.reqBody,
	}
	req.TraceID = traceIDFromHeaders(req.Header)
	dispatcher := h.cfg.Dispatcher

	go func() {
		// 调用方是外部提供的 Dispatcher 其 panic 不应该放倒整条连接的读路径
		// (读路径的 panic 由 pipeline.onChannelRead 的 recover 兜底 但这里是
		// 单独的 goroutine 不会经过那条路径) 拿不到响应时直接放弃这个 stream
		// 对端会在空等之后自行走超时 而不是让进程崩溃
		defer rescue.HandleCrash()
		resp := dispatcher(req)
		h.sendResponse(ctx, stream.id, resp)
	}()
}

// sendResponse 编码并发送一次响应 重新获取 h.mu: HPACK 编码表与帧在线路上的
// 顺序必须与发送顺序一致 不同流的并发响应必须在这把锁下排队编码/发送
func (h *Handler) sendResponse(ctx *pipeline.HandlerContext, streamID uint32, resp *Response) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.streams[streamID]
	if !ok || h.state == stateFailed {
		return
	}

	headers := NewHeaders()
	headers.Add(":status", statusText(resp.StatusCode))
	for _, f := range resp.Header.All() {
		headers.Add(f.Name, f.Value)
	}

	headerBlock := h.hp.Encode(headers)
	endStreamOnHeaders := len(resp.Body) == 0

	h.writeHeaderBlock(ctx, streamID, headerBlock, endStreamOnHeaders)
	if endStreamOnHeaders {
		stream.onEndStreamFromLocal()
		h.reapIfClosed(stream)
		return
	}

	h.writeDataLocked(ctx, stream, resp.Body, true)
	stream.onEndStreamFromLocal()
	h.reapIfClosed(stream)
}

// writeHeaderBlock 把一段已编码的 header block 切分为 HEADERS + 0 或多个
// CONTINUATION 帧 调用方必须持有 h.mu
func (h *Handler) writeHeaderBlock(ctx *pipeline.HandlerContext, streamID uint32, block []byte, endStream bool) {
	maxChunk := int(h.peerMaxFrameSize)
	first := true

	for len(block) > 0 || first {
		chunk := block
		last := true
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
			last = false
		}

		var flags uint8
		typ := FrameContinuation
		if first {
			typ = FrameHeaders
			if endStream {
				flags |= FlagEndStream
			}
		}
		if last {
			flags |= FlagEndHeaders
		}

		frame := AppendFrame(nil, typ, flags, streamID, chunk)
		_ = h.writeLocked(ctx, frame)

		block = block[len(chunk):]
		first = false
		if last {
			break
		}
	}
}

// writeDataLocked 把 body 切分为受流控窗口约束的 DATA 帧 窗口不足时阻塞在
// h.cond 上等待对端发送 WINDOW_UPDATE 调用方必须持有 h.mu
func (h *Handler) writeDataLocked(ctx *pipeline.HandlerContext, stream *Stream, body []byte, endStream bool) {
	for len(body) > 0 {
		for (stream.sendWindow <= 0 || h.connSendWindow <= 0) && h.state != stateFailed {
			h.cond.Wait()
		}
		if h.state == stateFailed {
			return
		}

		n := int64(len(body))
		if n > stream.sendWindow {
			n = stream.sendWindow
		}
		if n > h.connSendWindow {
			n = h.connSendWindow
		}
		if n > int64(h.peerMaxFrameSize) {
			n = int64(h.peerMaxFrameSize)
		}

		chunk := body[:n]
		body = body[n:]
		stream.consumeSendWindow(n)
		h.connSendWindow -= n

		var flags uint8
		if endStream && len(body) == 0 {
			flags |= FlagEndStream
		}
		frame := AppendFrame(nil, FrameData, flags, stream.id, chunk)
		_ = h.writeLocked(ctx, frame)
	}

	if endStream && len(body) == 0 {
		return
	}
}

// writeLocked 把已经组装好的帧写出到 Pipeline 调用方必须持有 h.mu
//
// 出站字节沿着 Pipeline 尾到头反向传递 (ctx.Write) 最终落到 Channel.Write 上
// Channel 自己的 writeMu 保证多个并发调用者之间的 FIFO 顺序 这里持有 h.mu 只是
// 为了保证 HPACK 编码状态与帧组装顺序一致 两把锁的职责不同
func (h *Handler) writeLocked(ctx *pipeline.HandlerContext, frame []byte) error {
	ctx.Write(frame)
	return nil
}

// fail 把连接状态机切换为 FAILED 发送 GOAWAY 并关闭底层 Channel
func (h *Handler) fail(ctx *pipeline.HandlerContext, ce *ConnError) {
	logger.Warnf("h2[%s]: %v", h.id, ce)

	h.mu.Lock()
	if h.state != stateFailed {
		h.state = stateFailed
		h.sendGoAwayLocked(ctx, ce.Code, ce.Reason)
	}
	h.mu.Unlock()

	_ = ctx.Pipeline().Close()
}

// sendGoAwayLocked 发送一个 GOAWAY 帧 调用方必须持有 h.mu
func (h *Handler) sendGoAwayLocked(ctx *pipeline.HandlerContext, code ErrCode, debug string) {
	if h.goAwaySent {
		return
	}
	h.goAwaySent = true

	payload := make([]byte, 8, 8+len(debug))
	binary.BigEndian.PutUint32(payload[0:4], h.lastPeer&streamIDMask)
	binary.BigEndian.PutUint32(payload[4:8], uint32(code))
	payload = append(payload, debug...)

	frame := AppendFrame(nil, FrameGoAway, 0, 0, payload)
	_ = h.writeLocked(ctx, frame)
	goAwaySentTotal.WithLabelValues(code.String()).Inc()
}

// Shutdown 主动发起优雅关闭: 发送 NO_ERROR GOAWAY 但不立即关闭连接 留给现存的
// 流完成 由 server.Server.Shutdown 在遍历 s.pipelines 广播下线时对每条连接调用
func (h *Handler) Shutdown(ctx *pipeline.HandlerContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendGoAwayLocked(ctx, ErrCodeNo, "server shutting down")
}

func statusText(code int) string {
	return strconv.Itoa(code)
}
