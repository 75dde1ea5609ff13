package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/samber/do"
	"github.com/serroba/resume-tracker/internal/container"
	"github.com/serroba/resume-tracker/internal/messaging"
	"github.com/serroba/resume-tracker/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		if err := options.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid options: %v\n", err)
			os.Exit(2)
		}

		if options.EventBus != container.BackendRedis {
			fmt.Fprintln(os.Stderr, "the consumer reads the redis event bus; set --event-bus=redis")
			os.Exit(2)
		}

		injector := do.New()
		do.ProvideValue(injector, options)
		container.LoggerPackage(injector)
		container.RedisPackage(injector)
		container.MetricsPackage(injector)
		container.ConsumerGroupPackage(injector)

		logger := do.MustInvoke[*zap.Logger](injector)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)

			group := do.MustInvoke[*messaging.ConsumerGroup](injector)
			collector := do.MustInvoke[*metrics.Collector](injector)

			router := chi.NewMux()
			router.Handle("/metrics", collector.Handler())

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				if err := group.Start(gctx); err != nil {
					return err
				}

				<-gctx.Done()

				return nil
			})

			g.Go(func() error {
				logger.Info("metrics listening", zap.Int("port", options.Port))

				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}

				return nil
			})

			g.Go(func() error {
				<-gctx.Done()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()

				return server.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				logger.Error("consumer stopped", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")
			cancel()
			<-done

			if err := injector.Shutdown(); err != nil {
				logger.Error("shutdown error", zap.Error(err))
			}

			if err := do.MustInvoke[*container.Closers](injector).Close(); err != nil {
				logger.Error("connection close error", zap.Error(err))
			}

			logger.Info("shutdown complete")
		})
	})

	cli.Run()
}
