// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uie

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/antflydb/uie/lib/backends"
	"go.uber.org/zap"
)

// corsMiddleware adds permissive CORS headers for the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID, Accept, Origin")
		w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// NewHandler returns the root handler: health endpoints plus the API.
func NewHandler(logger *zap.Logger, node *UIENode) http.Handler {
	rootMux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	rootMux.HandleFunc("GET /healthz", node.handleHealthz)
	rootMux.HandleFunc("GET /readyz", node.handleReadyz)
	rootMux.Handle("/api/", NewUIEAPI(logger, node))

	return corsMiddleware(rootMux)
}

// RunAsServer runs the extraction API server until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to accept requests.
func RunAsServer(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("uie")
	zl.Info("Starting uie node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	sessionManager := backends.NewSessionManager()
	defer func() { _ = sessionManager.Close() }()
	if len(config.BackendPriority) > 0 {
		priority, err := backends.ParseBackendPriority(config.BackendPriority)
		if err != nil {
			zl.Fatal("Invalid backend_priority", zap.Strings("backend_priority", config.BackendPriority), zap.Error(err))
		}
		sessionManager.SetPriority(priority)
		zl.Info("Backend priority configured", zap.Strings("backend_priority", config.BackendPriority))
	}

	gpuMode := backends.ParseGPUMode(config.Gpu)
	gpuInfo := backends.DetectGPU()
	zl.Info("GPU detection complete",
		zap.String("mode", string(gpuMode)),
		zap.Bool("available", gpuInfo.Available),
		zap.String("type", gpuInfo.Type),
		zap.String("device", gpuInfo.DeviceName))

	keepAlive := DefaultKeepAlive
	if config.KeepAlive != "" {
		keepAlive, err = parseDuration(config.KeepAlive)
		if err != nil {
			zl.Fatal("Invalid keep_alive duration", zap.String("keep_alive", config.KeepAlive), zap.Error(err))
		}
	}

	extractionOpts, err := config.Extraction.Options()
	if err != nil {
		zl.Fatal("Invalid extraction config", zap.Error(err))
	}

	registry, err := NewExtractorRegistry(ExtractorRegistryConfig{
		ModelsDir:       config.ModelsDir,
		KeepAlive:       keepAlive,
		MaxLoadedModels: uint64(max(config.MaxLoadedModels, 0)),
		PoolSize:        config.PoolSize,
		LoadOptions:     []backends.LoadOption{backends.WithGPUMode(gpuMode)},
		Options:         extractionOpts,
	}, sessionManager, zl.Named("registry"))
	if err != nil {
		zl.Fatal("Failed to initialize extractor registry", zap.Error(err))
	}
	defer func() { _ = registry.Close() }()

	// Initialize request queue for backpressure control
	requestTimeout, err := parseDuration(config.RequestTimeout)
	if err != nil {
		zl.Fatal("Invalid request_timeout duration", zap.String("request_timeout", config.RequestTimeout), zap.Error(err))
	}
	requestQueue := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: config.MaxConcurrentRequests,
		MaxQueueSize:          config.MaxQueueSize,
		RequestTimeout:        requestTimeout,
	}, zl.Named("queue"))

	extractionCache := NewExtractionCache(zl.Named("extraction-cache"))
	defer extractionCache.Close()

	node := NewUIENode(zl, registry, requestQueue, extractionCache)

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     NewHandler(zl, node),
		ReadTimeout: 540 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("UIE api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}
