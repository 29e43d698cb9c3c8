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

package pipeline

import (
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/h2engine/channel"
	"github.com/packetd/h2engine/internal/zerocopy"
)

// recordingHandler 是一个在链中原样转发数据 并把经过的每一段入站/出站数据以及
// OnClose 调用记录下来的 Handler 供测试断言用
type recordingHandler struct {
	BaseHandler

	mu     sync.Mutex
	reads  [][]byte
	writes [][]byte
	closes int
}

func (h *recordingHandler) OnRead(ctx *HandlerContext, buf zerocopy.Buffer) {
	b, err := buf.Read(math.MaxInt32)
	h.mu.Lock()
	if err == nil {
		h.reads = append(h.reads, append([]byte(nil), b...))
	}
	h.mu.Unlock()
	if err != nil {
		ctx.Next(zerocopy.NewBuffer(nil))
		return
	}
	ctx.Next(zerocopy.NewBuffer(b))
}

func (h *recordingHandler) OnWrite(ctx *HandlerContext, p []byte) {
	h.mu.Lock()
	h.writes = append(h.writes, append([]byte(nil), p...))
	h.mu.Unlock()
	ctx.WriteNext(p)
}

func (h *recordingHandler) OnClose(ctx *HandlerContext) {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() (reads, writes [][]byte, closes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.reads...), append([][]byte(nil), h.writes...), h.closes
}

// panicHandler 总是在 OnRead 中 panic 用于验证 Pipeline 的异常兜底
type panicHandler struct {
	BaseHandler
}

func (panicHandler) OnRead(ctx *HandlerContext, buf zerocopy.Buffer) {
	panic("boom")
}

func TestPipelineAddLastDuplicateNamePanics(t *testing.T) {
	p := New(nil)
	p.AddLast("a", &recordingHandler{})

	assert.Panics(t, func() {
		p.AddLast("a", &recordingHandler{})
	})
}

func TestPipelineGetHeadTail(t *testing.T) {
	p := New(nil)

	_, ok := p.Head()
	assert.False(t, ok)
	_, ok = p.Tail()
	assert.False(t, ok)

	p.AddLast("first", &recordingHandler{}).AddLast("second", &recordingHandler{})

	head, ok := p.Head()
	require.True(t, ok)
	assert.Equal(t, "first", head.Name())

	tail, ok := p.Tail()
	require.True(t, ok)
	assert.Equal(t, "second", tail.Name())

	ctx, ok := p.Get("second")
	require.True(t, ok)
	assert.Same(t, tail, ctx)

	_, ok = p.Get("missing")
	assert.False(t, ok)
}

func TestPipelineStartDispatchesReadThroughChain(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := channel.New(server)
	p := New(ch)

	first := &recordingHandler{}
	second := &recordingHandler{}
	p.AddLast("first", first).AddLast("second", second)
	p.Start()

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		reads, _, _ := second.snapshot()
		return len(reads) == 1 && string(reads[0]) == "ping"
	}, time.Second, time.Millisecond)

	reads, _, _ := first.snapshot()
	require.Len(t, reads, 1)
	assert.Equal(t, "ping", string(reads[0]))
}

func TestPipelineOnCloseFanoutWhenChannelCloses(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	ch := channel.New(server)
	p := New(ch)

	first := &recordingHandler{}
	second := &recordingHandler{}
	p.AddLast("first", first).AddLast("second", second)
	p.Start()

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		_, _, closes1 := first.snapshot()
		_, _, closes2 := second.snapshot()
		return closes1 == 1 && closes2 == 1
	}, time.Second, time.Millisecond)
}

func TestPipelineWaitUnblocksOnceChannelCloses(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	ch := channel.New(server)
	p := New(ch)
	p.AddLast("only", &recordingHandler{})
	p.Start()

	waited := make(chan struct{})
	go func() {
		p.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned before the channel closed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, client.Close())

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after the channel closed")
	}
}

func TestPipelineRecoversHandlerPanicAndClosesChannel(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := channel.New(server)
	p := New(ch)
	p.AddLast("panic", panicHandler{})
	p.Start()

	_, err := client.Write([]byte("boom"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, werr := ch.Write([]byte("x"))
		return werr == net.ErrClosed
	}, time.Second, time.Millisecond)
}

func TestPipelineClose(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := channel.New(server)
	p := New(ch)

	require.NoError(t, p.Close())

	_, err := ch.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
}
