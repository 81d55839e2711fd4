package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// The host to serve the debug HTTP endpoints on
	host string

	// The port to listen for http requests on
	httpPort string

	// Concurrent callers sharing the connection
	concurrency int

	// Requests per caller
	requests int

	// Keep serving metrics once the run is over
	serve bool

	benchLatency = metrics.NewHistogram("resplink_bench_request_duration_seconds")
)

func init() {
	flags := BenchCmd.Flags()

	flags.IntVarP(&concurrency, "concurrency", "c", 8, "The number of concurrent callers")
	flags.IntVarP(&requests, "requests", "n", 10000, "The number of requests each caller sends")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to serve metrics on")
	flags.StringVar(&host, "host", "127.0.0.1", "The host to serve metrics on")
	flags.BoolVar(&serve, "serve", false, "Keep serving metrics until interrupted")
}

var BenchCmd = &cobra.Command{
	Use:   "bench [COMMAND ARG...]",
	Short: "Send commands from concurrent callers over one connection",
	Long: `Send commands from concurrent callers over one connection

Every caller shares the same connection, so this measures how well
requests are pipelined through the connection lock. Metrics are served
in Prometheus format on /metrics while the benchmark runs.

Usage
	resplink bench -c 16 -n 100000
	resplink bench -c 4 SET key value
`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		c, conf, log, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/metrics", func(c *gin.Context) {
			metrics.WritePrometheus(c.Writer, true)
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		name, cmdArgs := "PING", []interface{}{}
		if len(args) > 0 {
			name = args[0]
			for _, a := range args[1:] {
				cmdArgs = append(cmdArgs, a)
			}
		}

		log.Info("Benchmarking",
			zap.String("addr", conf.Addr),
			zap.String("command", name),
			zap.Int("concurrency", concurrency),
			zap.Int("requests", requests),
			zap.String("httpPort", httpPort))

		var (
			wg     sync.WaitGroup
			failed int64
			start  = time.Now()
		)

		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				for j := 0; j < requests && ctx.Err() == nil; j++ {
					t := time.Now()
					if _, err := c.Do(ctx, name, cmdArgs...); err != nil {
						atomic.AddInt64(&failed, 1)
						log.Debug("Request failed", zap.Error(err))
						continue
					}
					benchLatency.UpdateDuration(t)
				}
			}()
		}

		wg.Wait()
		elapsed := time.Since(start)
		total := concurrency * requests

		log.Info("Benchmark finished",
			zap.Int("requests", total),
			zap.Int64("failed", atomic.LoadInt64(&failed)),
			zap.Duration("elapsed", elapsed),
			zap.Float64("requestsPerSecond", float64(total)/elapsed.Seconds()))

		if serve {
			log.Info("Serving metrics, press Ctrl+C to stop")
			<-ctx.Done()
		}

		log.Info("Shutting down gracefully")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
