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

package common

const (
	// App 应用程序名称
	App = "h2engine"

	// Version 应用程序版本
	Version = "v0.1.0"

	// ReadWriteBlockSize 单次 Channel 读取的缓冲区长度
	//
	// HTTP/2 帧最大长度受 SETTINGS_MAX_FRAME_SIZE 限制 默认 16384 bytes
	// 这里取一个小于默认 SETTINGS_MAX_FRAME_SIZE 的`折中的` buffersize
	// 避免每次 scatter-read 都申请过大的内存 超过一次读取长度的帧由 h2.Handler 的
	// 接收缓冲区跨多次读取拼接
	ReadWriteBlockSize = 4096

	// DefaultMaxFrameSize 未经协商时的帧最大长度 (RFC 7540 §4.2)
	DefaultMaxFrameSize = 16384

	// DefaultInitialWindowSize 未经协商时的流级流控初始窗口 (RFC 7540 §6.9.2)
	DefaultInitialWindowSize = 65535

	// DefaultMaxConcurrentStreams 单个连接允许的最大并发流数量
	DefaultMaxConcurrentStreams = 100

	// FrameHeaderLength 帧头长度 (9 octets, RFC 7540 §4.1)
	FrameHeaderLength = 9

	// MaxWindowSize 流控窗口允许达到的最大值 (2^31 - 1, RFC 7540 §6.9.1)
	MaxWindowSize = 1<<31 - 1
)
