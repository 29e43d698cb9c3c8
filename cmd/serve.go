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

package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/packetd/h2engine/confengine"
	"github.com/packetd/h2engine/h2"
	"github.com/packetd/h2engine/internal/sigs"
	"github.com/packetd/h2engine/logger"
	"github.com/packetd/h2engine/server"
)

// adminShutdownTimeout 给管理面 HTTP 服务优雅关闭的最长等待时间 超时后放弃等待
// 在途请求 直接让进程退出
const adminShutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/2 engine in server mode",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		if err := setupLogger(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
			os.Exit(1)
		}

		svr, err := server.New(cfg, h2.EchoDispatcher)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
			os.Exit(1)
		}
		if svr == nil {
			fmt.Fprintf(os.Stderr, "server.enabled is false, nothing to do\n")
			os.Exit(1)
		}

		admin, err := server.NewAdmin(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin server: %v\n", err)
			os.Exit(1)
		}
		setupAdminRoutes(admin)

		go func() {
			err := svr.ListenAndServe()
			if !errors.Is(err, io.EOF) {
				logger.Errorf("h2 server stopped: %v", err)
			}
		}()
		if admin != nil {
			go func() {
				if err := admin.ListenAndServe(); err != nil {
					logger.Errorf("admin server stopped: %v", err)
				}
			}()
		}

		var reloadTotal int
		for {
			select {
			case <-sigs.Terminate():
				logger.Infof("received termination signal, shutting down")

				var errs error
				if err := svr.Shutdown(); err != nil {
					errs = multierror.Append(errs, err)
				}
				if admin != nil {
					ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
					if err := admin.Shutdown(ctx); err != nil {
						errs = multierror.Append(errs, err)
					}
					cancel()
				}
				if errs != nil {
					logger.Errorf("shutdown did not complete cleanly: %v", errs)
				}
				return

			case <-sigs.Reload():
				reloadTotal++

				// 重载仅刷新日志配置 监听地址/流控参数不支持热更新 需要重启进程
				cfg, err := confengine.LoadConfigPath(configPath)
				if err != nil {
					logger.Errorf("failed to reload config (count=%d): %v", reloadTotal, err)
					continue
				}

				start := time.Now()
				if err := setupLogger(cfg); err != nil {
					logger.Errorf("failed to reload logger config: %v", err)
					continue
				}
				logger.Infof("reload (count=%d) take %s", reloadTotal, time.Since(start))
			}
		}
	},
	Example: "# h2engine serve --config h2engine.yaml",
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = "h2engine.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

func setupAdminRoutes(admin *server.AdminServer) {
	if admin == nil {
		return
	}
	admin.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	admin.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		level := r.FormValue("level")
		logger.SetLoggerLevel(level)
		w.Write([]byte(`{"status": "success"}`))
	})
	admin.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
	})
}

var configPath string

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "h2engine.yaml", "Configuration file path")
	rootCmd.AddCommand(serveCmd)
}
