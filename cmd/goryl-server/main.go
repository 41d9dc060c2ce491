// Copyright 2026 goryl Project Authors
//
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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/cmd/version"
	"github.com/zaillisy/goryl/common/parallel"
	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/server"
	"github.com/zaillisy/goryl/storage/data"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const connectTimeout = 2 * time.Minute

var serverCommand = &cobra.Command{
	Use:   "goryl-server",
	Short: "The API server of goryl personalization service.",
	Run: func(cmd *cobra.Command, args []string) {
		// Show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		// Load config
		configPath, _ := cmd.PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}

		// Setup tracing
		tp, err := cfg.Tracing.NewTracerProvider("goryl-server")
		if err != nil {
			log.Logger().Fatal("failed to create tracer provider", zap.Error(err))
		}
		otel.SetTracerProvider(tp)
		otel.SetErrorHandler(log.GetErrorHandler())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Connect data store
		dataClient, err := connect(ctx, cfg)
		if err != nil {
			log.Logger().Fatal("failed to connect data store", zap.Error(err),
				zap.String("database", log.RedactDBURL(cfg.Database.DataStore)))
		}
		if err = dataClient.Init(); err != nil {
			log.Logger().Fatal("failed to init data store", zap.Error(err))
		}

		pool := parallel.NewBoundedPool(cfg.Server.SideChannelWorkers)
		s, err := server.NewRestServer(cfg, dataClient, clock.New(), pool)
		if err != nil {
			log.Logger().Fatal("failed to create server", zap.Error(err))
		}

		// Stop server
		done := make(chan struct{})
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Logger().Error("failed to shutdown server", zap.Error(err))
			}
			close(done)
		}()
		// Start server
		if err = s.StartHttpServer(ctx); err != nil {
			log.Logger().Fatal("failed to start http server", zap.Error(err))
		}
		<-done
		if err = dataClient.Close(); err != nil {
			log.Logger().Error("failed to close data store", zap.Error(err))
		}
		log.Logger().Info("stop goryl server successfully")
	},
}

// connect opens the data store and waits until it answers pings.
func connect(ctx context.Context, cfg *config.Config) (data.Database, error) {
	return backoff.Retry(ctx, func() (data.Database, error) {
		dataClient, err := data.Open(cfg.Database.DataStore, cfg.Database.TablePrefix)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err = dataClient.Ping(); err != nil {
			_ = dataClient.Close()
			return nil, err
		}
		return dataClient, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(connectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Logger().Warn("data store is not ready",
				zap.String("database", log.RedactDBURL(cfg.Database.DataStore)),
				zap.Duration("retry_after", next),
				zap.Error(err))
		}))
}

func init() {
	log.AddFlags(serverCommand.PersistentFlags())
	serverCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	serverCommand.PersistentFlags().StringP("config", "c", "/etc/goryl/config.toml", "configuration file path")
	serverCommand.PersistentFlags().BoolP("version", "v", false, "goryl version")
}

func main() {
	if err := serverCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
