package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/metrics"
)

// NewRouter 构建 chi 路由
func NewRouter(sc *ServingContext) http.Handler {
	h := NewHandler(sc)
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(AccessLog())
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s := sc.Settings.Server; s.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.RateLimit, s.RateWindow))
		}
		r.Post("/ann/retrieve", h.Retrieve)
		r.Post("/phoenix/predict", h.Predict)
		r.Post("/vf/check", h.Check)
		r.Post("/feed/recommend", h.Recommend)
	})

	r.Post("/admin/index/rebuild", h.RebuildIndex)
	return r
}

// RequestIDWithLogging 读取或生成 X-Request-ID，写回响应头并放入日志 context
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(chimiddleware.RequestIDHeader)
			if id == "" {
				id = logging.NewRequestID()
			}
			w.Header().Set(chimiddleware.RequestIDHeader, id)
			ctx := logging.ContextWithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLog 记录访问日志与请求耗时指标（按路由模式聚合）
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			took := time.Since(start)
			metrics.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(took.Seconds())
			logging.Ctx(r.Context()).Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("took", took).
				Msg("http request")
		})
	}
}
