package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"

	"LeadFlow/internal/auth"
	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/export"
	"LeadFlow/internal/observability/metrics"
	"LeadFlow/internal/task"
	"LeadFlow/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RunService 是 API 依赖的运行任务能力，*task.Service 满足该接口。
type RunService interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter task.Filter) ([]*task.Task, error)
	Stats(ctx context.Context, filter task.Filter) (task.Stats, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	runs    RunService
	metrics *metrics.Recorder
	guard   *auth.Guard
	origins []string
	log     *slog.Logger
	start   time.Time
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithMetrics 记录请求指标并挂载 /metrics。
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = rec
	}
}

// WithAuth 要求 /api/v1 下的请求携带 Bearer 令牌。
func WithAuth(guard *auth.Guard) Option {
	return func(s *Server) {
		s.guard = guard
	}
}

// WithCORS 允许列出的来源跨域访问，预检请求不经过认证。
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs RunService, opts ...Option) *Server {
	s := &Server{addr: addr, runs: runs, log: logger.Named("api"), start: time.Now()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, fn http.HandlerFunc) {
		var h http.Handler = fn
		if s.guard != nil {
			h = s.guard.Middleware(h)
		}
		if s.metrics != nil {
			h = s.metrics.Middleware(name, h)
		}
		mux.Handle(pattern, h)
	}
	route("POST /api/v1/runs", "submit_run", s.handleSubmitRun)
	route("GET /api/v1/runs", "list_runs", s.handleListRuns)
	route("GET /api/v1/runs/{id}", "get_run", s.handleRunDetail)
	route("GET /api/v1/runs/{id}/leads.xlsx", "leads_xlsx", s.handleLeadsXLSX)
	route("GET /api/v1/runs/{id}/leads.csv", "leads_csv", s.handleLeadsCSV)
	route("GET /api/v1/stats", "stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if len(s.origins) == 0 {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         600,
	}).Handler(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return
	}

	var req task.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	submitted, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		s.log.Warn("提交运行失败", slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.runs.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.runs.Stats(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleLeadsXLSX(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupWithResult(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, run.Result.Leads); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-leads.xlsx"`, run.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleLeadsCSV(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupWithResult(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, run.Result.Leads); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-leads.csv"`, run.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return nil, false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少运行 ID"))
		return nil, false
	}
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return run, true
}

func (s *Server) lookupWithResult(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	run, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	if run.Result == nil {
		writeError(w, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("运行 %s 尚未产生结果，当前状态 %s", run.ID, run.Status)))
		return nil, false
	}
	return run, true
}

// parseFilter 把查询参数转换为 task.Filter。
// 支持 limit、offset、status（逗号分隔）、has_result、since、until（RFC3339）、q、order=asc。
func parseFilter(r *http.Request) (task.Filter, error) {
	query := r.URL.Query()
	var filter task.Filter

	for _, p := range []struct {
		name string
		dst  *int
		min  int
	}{{"limit", &filter.Limit, 1}, {"offset", &filter.Offset, 0}} {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < p.min {
			return task.Filter{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 取值非法: %s", p.name, raw))
		}
		*p.dst = n
	}

	if raw := query.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return task.Filter{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的状态: %s", part))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if raw := query.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return task.Filter{}, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须为布尔值")
		}
		filter = filter.WithResult(has)
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return task.Filter{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("%s 必须为 RFC3339 时间", p.name))
		}
		*p.dst = ts
	}

	filter.Query = query.Get("q")
	filter.Oldest = strings.EqualFold(query.Get("order"), "asc")
	return filter, nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeJSON(w, xerrors.HTTPStatusOf(err), errorBody{Error: message, Code: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
