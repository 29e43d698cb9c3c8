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

// Package channel 实现了一个保序的 scatter-read 抽象
//
// 底层 net.Conn 上可以有多个并发的 Read 同时在途 但完成顺序并不保证与发起顺序一致
// Channel 通过一个提交序号 (submission index) 与一个小顶堆把乱序完成的读取重新拼接成
// 严格递增的字节序 每当堆顶元素的序号等于当前等待的序号时就把该段数据交给回调函数
package channel

import (
	"container/heap"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/packetd/h2engine/common"
	"github.com/packetd/h2engine/internal/bufpool"
	"github.com/packetd/h2engine/internal/zerocopy"
	"github.com/packetd/h2engine/logger"
)

// DefaultConcurrentReads 是未指定 WithConcurrentReads 时的并发读取数
//
// 等同于 C++ 原型中的 MAX_CONCURRENT_SCATTER_READS=1: 单个 Channel 默认只维护
// 一路在途读取 此时 gather 堆退化为一个先进先出队列 但实现并不对此做特化
const DefaultConcurrentReads = 1

// ReadCallback 在数据按序到达时被调用
//
// buf 长度为 0 表示对端已关闭 (EOF) 此后不会再有回调触发
type ReadCallback func(buf zerocopy.Buffer)

// gather 对应 C++ 原型中的 Gather 结构体: 一次已完成但尚未被消费的读取
type gather struct {
	index uint64
	buf   []byte
}

// gatherHeap 是按 index 升序排列的小顶堆
type gatherHeap []gather

func (h gatherHeap) Len() int            { return len(h) }
func (h gatherHeap) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h gatherHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *gatherHeap) Push(x any)         { *h = append(*h, x.(gather)) }
func (h *gatherHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Channel 包装一个 net.Conn 提供保序的异步读取与直接写入
type Channel struct {
	conn net.Conn

	mu         sync.Mutex
	next       atomic.Uint64 // 下一个要分配的提交序号
	waitingOn  uint64        // 当前正在等待交付的序号
	gatherHeap gatherHeap

	// writeMu 把所有出站写入序列化成一条 FIFO 队列 (spec §5): 上层可能有多个
	// goroutine 同时准备向同一个 Channel 写 (不同 stream 的响应交错) 但它们在
	// 线路上落地的顺序必须与各自调用 Write 的顺序一致 否则会把两个帧的字节拼错
	writeMu sync.Mutex

	concurrentReads int
	closed          atomic.Bool
}

// New 创建一个包装给定连接的 Channel
func New(conn net.Conn, opts ...Option) *Channel {
	c := &Channel{
		conn:            conn,
		concurrentReads: DefaultConcurrentReads,
	}
	heap.Init(&c.gatherHeap)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option 配置 Channel 的可选行为
type Option func(*Channel)

// WithConcurrentReads 设置允许同时在途的 scatter-read 数量 (对应 K)
//
// K=1 是默认值也是当前唯一被实际驱动的取值 更大的 K 只影响吞吐 不影响交付顺序:
// gather 堆保证无论多少路读取同时完成 回调总是按提交顺序收到数据
func WithConcurrentReads(k int) Option {
	return func(c *Channel) {
		if k > 0 {
			c.concurrentReads = k
		}
	}
}

// StartRead 开始异步保序读取 callback 会在持有内部锁的情况下按序调用
//
// 调用方不应在 callback 中阻塞或重入 Channel 的方法 (除 Write/Close 外)
func (c *Channel) StartRead(callback ReadCallback) {
	for i := 0; i < c.concurrentReads; i++ {
		c.startRead(callback)
	}
}

func (c *Channel) startRead(callback ReadCallback) {
	go func() {
		index := c.next.Add(1) - 1

		buf := bufpool.Acquire(common.ReadWriteBlockSize)
		n, err := c.conn.Read(buf.B)
		segment := append([]byte(nil), buf.B[:n]...)
		bufpool.Release(buf)

		if err != nil && !errors.Is(err, io.EOF) {
			logger.Warnf("channel read error: %v", err)
		}

		c.deliver(index, segment, callback)

		// 对应 C++ 原型 startRead_: 只要本次读取没有遇到错误/EOF 就继续发起下一次读取
		if err == nil {
			c.startRead(callback)
		}
	}()
}

// deliver 把一次完成的读取压入 gather 堆 并按序把所有已就绪的段交给 callback
func (c *Channel) deliver(index uint64, buf []byte, callback ReadCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	heap.Push(&c.gatherHeap, gather{index: index, buf: buf})

	for len(c.gatherHeap) > 0 && c.gatherHeap[0].index == c.waitingOn {
		next := heap.Pop(&c.gatherHeap).(gather)
		c.waitingOn++

		callback(zerocopy.NewBuffer(next.buf))

		if len(next.buf) == 0 {
			// 对端已关闭 后续不会再有数据到达 停止交付
			return
		}
	}
}

// Write 把 p 写入底层连接 多个并发调用者之间通过 writeMu 序列化 保证线路上
// 的字节顺序与各自调用 Write 的顺序一致 (spec §5 单 Channel 写入必须 FIFO)
//
// Channel 已关闭时返回 net.ErrClosed 底层连接的写入错误原样返回给调用方
func (c *Channel) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.conn.Write(p)
	if err != nil && !c.closed.Load() {
		logger.Warnf("channel write error: %v", err)
	}
	return n, err
}

// Shutdown 半关闭底层连接的写方向 (若支持)
func (c *Channel) Shutdown() error {
	if tc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return tc.CloseWrite()
	}
	return nil
}

// Close 关闭底层连接
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// RemoteAddr 返回底层连接的远端地址
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
