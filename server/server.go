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

// Package server 把 channel/pipeline/h2 三层拼装为一个可监听的 h2c
// (HTTP/2 over cleartext TCP) 服务端 管理面 (metrics/pprof) 由同包下的
// AdminServer (admin.go) 独立承担 两者监听不同端口 互不影响
package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/packetd/h2engine/channel"
	"github.com/packetd/h2engine/confengine"
	"github.com/packetd/h2engine/h2"
	"github.com/packetd/h2engine/logger"
	"github.com/packetd/h2engine/pipeline"
)

// Config 配置监听地址与每条连接的协议参数
type Config struct {
	Enabled bool   `config:"enabled"`
	Address string `config:"address"`

	// MaxFrameSize 我方在 SETTINGS 中通告的 SETTINGS_MAX_FRAME_SIZE
	MaxFrameSize uint32 `config:"maxFrameSize"`

	// InitialWindowSize 我方在 SETTINGS 中通告的 SETTINGS_INITIAL_WINDOW_SIZE
	InitialWindowSize uint32 `config:"initialWindowSize"`

	// MaxConcurrentStreams 单连接允许的最大并发流数
	MaxConcurrentStreams uint32 `config:"maxConcurrentStreams"`

	// IdleTimeout 连接允许的最大空闲时长 超过后被 reaper 强制关闭 0 表示不启用
	IdleTimeout time.Duration `config:"idleTimeout"`

	// MaxConnections 同时存活的 TCP 连接数上限 0 表示不限制 超出时新连接的
	// Accept 会被阻塞而不是立即拒绝 (golang.org/x/net/netutil.LimitListener 的语义)
	MaxConnections int `config:"maxConnections"`
}

// Server 接受 TCP 连接 把每条连接包装为一条 Channel+Pipeline 并挂上
// h2.Handler 作为链尾
type Server struct {
	config     Config
	dispatcher h2.Dispatcher

	mu        sync.Mutex
	ln        net.Listener
	pipelines map[string]*pipeline.Pipeline
}

// New 创建并返回 Server 实例
//
// 当 .Enabled 为 false 时会返回空指针 调用方需先判断
func New(conf *confengine.Config, dispatcher h2.Dispatcher) (*Server, error) {
	var config Config
	if err := conf.UnpackChild("server", &config); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, nil
	}

	if dispatcher == nil {
		dispatcher = h2.EchoDispatcher
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		pipelines:  make(map[string]*pipeline.Pipeline),
	}, nil
}

// ListenAndServe 开始监听并为每条入站连接搭建 Channel/Pipeline/h2.Handler
// 阻塞直至监听被 Close 打断
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	logger.Infof("h2 server listening on %s", s.config.Address)

	if s.config.IdleTimeout > 0 {
		go s.reapIdleConns()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	connectionsAccepted.Inc()
	ch := channel.New(conn)

	h2cfg := h2.Config{
		Dispatcher:           s.dispatcher,
		MaxFrameSize:         s.config.MaxFrameSize,
		InitialWindowSize:    s.config.InitialWindowSize,
		MaxConcurrentStreams: s.config.MaxConcurrentStreams,
	}
	handler := h2.NewHandler(h2cfg)

	pl := pipeline.New(ch)
	pl.AddLast(pipeline.DumpHandlerName, pipeline.NewDumpHandler(handler.ID()))
	pl.AddLast("h2", handler)

	s.trackPipeline(handler.ID(), pl)
	defer s.untrackPipeline(handler.ID())

	logger.Debugf("connection %s accepted from %s", handler.ID(), conn.RemoteAddr())
	pl.Start()
	pl.Wait()
	_ = pl.Close()
}

func (s *Server) trackPipeline(id string, pl *pipeline.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[id] = pl
	connectionsActive.Inc()
}

func (s *Server) untrackPipeline(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pipelines, id)
	connectionsActive.Dec()
}

// reapIdleConns 周期性扫描所有连接 强制关闭超过 IdleTimeout 未收到任何数据的连接
func (s *Server) reapIdleConns() {
	ticker := time.NewTicker(s.config.IdleTimeout / 2)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-s.config.IdleTimeout).Unix()

		s.mu.Lock()
		stale := make([]*pipeline.Pipeline, 0)
		for _, pl := range s.pipelines {
			if h, ok := s.handlerOf(pl); ok && h.LastActivity() < cutoff {
				stale = append(stale, pl)
			}
		}
		s.mu.Unlock()

		for _, pl := range stale {
			_ = pl.Close()
		}
	}
}

func (s *Server) handlerOf(pl *pipeline.Pipeline) (*h2.Handler, bool) {
	ctx, ok := pl.Get("h2")
	if !ok {
		return nil, false
	}
	h, ok := ctx.Handler().(*h2.Handler)
	return h, ok
}

// Shutdown 向所有存活连接广播 GOAWAY(NO_ERROR) 并停止接受新连接 它不会强制
// 切断已有连接 调用方应在此之后等待一段宽限期再退出进程
func (s *Server) Shutdown() error {
	s.mu.Lock()
	ln := s.ln
	pipelines := make([]*pipeline.Pipeline, 0, len(s.pipelines))
	for _, pl := range s.pipelines {
		pipelines = append(pipelines, pl)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	for _, pl := range pipelines {
		ctx, ok := pl.Get("h2")
		if !ok {
			continue
		}
		if h, ok := ctx.Handler().(*h2.Handler); ok {
			h.Shutdown(ctx)
		}
	}
	return nil
}
