package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"hello-pool/internal/events"
	"hello-pool/internal/logger"
	"hello-pool/internal/metrics"
	"hello-pool/internal/scenario"
	"hello-pool/internal/worker"
)

const statusInterval = time.Second

// Server はAPIサーバー
type Server struct {
	addr     string
	bus      *events.Bus
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	log      grip.Journaler

	mu         sync.RWMutex
	ctx        context.Context
	running    bool
	engine     *scenario.Engine
	config     scenario.Config
	lastResult *scenario.Result
	lastError  string
	wsClients  map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string) (*Server, error) {
	s := &Server{
		addr:      addr,
		bus:       events.NewBus(),
		metrics:   metrics.New(),
		registry:  prometheus.NewRegistry(),
		log:       logger.Default(),
		ctx:       context.Background(),
		wsClients: make(map[*websocket.Conn]bool),
	}
	if err := s.metrics.Register(s.registry); err != nil {
		return nil, err
	}
	return s, nil
}

// SetLogger はロガーを設定する
func (s *Server) SetLogger(j grip.Journaler) {
	s.log = logger.Or(j)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/workers", s.handleWorkers)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/scenario/start", s.handleScenarioStart)
	mux.HandleFunc("/api/scenario/stop", s.handleScenarioStop)

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx が終了するまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.startBackground(ctx)

	s.log.Info(message.Fields{
		"message": "api server starting",
		"addr":    s.addr,
	})

	go func() {
		<-ctx.Done()
		s.stopScenario()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Wrap(err, "api server")
	}
	return nil
}

// startBackground はイベント転送とステータス配信を開始する
func (s *Server) startBackground(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	go s.forwardEvents(ctx)
	go s.broadcastLoop(ctx)
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running      bool             `json:"running"`
	ScenarioName string           `json:"scenario_name,omitempty"`
	Workers      int              `json:"workers"`
	LiveWorkers  int              `json:"live_workers"`
	Queued       int              `json:"queued"`
	Closed       bool             `json:"closed"`
	LastResult   *scenario.Result `json:"last_result,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
}

func (s *Server) status() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{
		Running:      s.running,
		ScenarioName: s.config.Name,
		LastResult:   s.lastResult,
		LastError:    s.lastError,
	}

	if pool := s.currentPool(); pool != nil {
		resp.Workers = pool.NumWorkers()
		resp.LiveWorkers = pool.LiveWorkers()
		resp.Queued = pool.QueueSize()
		resp.Closed = pool.Closed()
	}

	return resp
}

// currentPool は s.mu を保持した状態で呼ぶ
func (s *Server) currentPool() *worker.Pool {
	if s.engine == nil {
		return nil
	}
	return s.engine.Pool()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.status())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	pool := s.currentPool()
	s.mu.RUnlock()

	workers := []worker.WorkerStatus{}
	if pool != nil {
		workers = pool.Workers()
	}

	s.writeJSON(w, workers)
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	SubmittedTasks uint64  `json:"submitted_tasks"`
	CompletedTasks uint64  `json:"completed_tasks"`
	PanickedTasks  uint64  `json:"panicked_tasks"`
	RejectedTasks  uint64  `json:"rejected_tasks"`
	ActiveWorkers  int64   `json:"active_workers"`
	BusyWorkers    int64   `json:"busy_workers"`
	TPS            float64 `json:"tps"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	P99LatencyMs   float64 `json:"p99_latency_ms"`
	PanicRate      float64 `json:"panic_rate"`
	DroppedEvents  uint64  `json:"dropped_events"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.metrics.Snapshot()
	s.writeJSON(w, MetricsResponse{
		SubmittedTasks: snap.SubmittedTasks,
		CompletedTasks: snap.CompletedTasks,
		PanickedTasks:  snap.PanickedTasks,
		RejectedTasks:  snap.RejectedTasks,
		ActiveWorkers:  snap.ActiveWorkers,
		BusyWorkers:    snap.BusyWorkers,
		TPS:            snap.OverallTPS,
		AvgLatencyMs:   float64(snap.AverageLatency) / float64(time.Millisecond),
		P99LatencyMs:   float64(snap.P99Latency) / float64(time.Millisecond),
		PanicRate:      snap.PanicRate,
		DroppedEvents:  s.bus.Dropped(),
	})
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PoolSize    int    `json:"pool_size"`
	Tasks       int    `json:"tasks"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := scenario.ListPresets()
	presets := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		config, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        config.Name,
			Description: config.Description,
			PoolSize:    config.PoolSize,
			Tasks:       config.Tasks,
		})
	}

	s.writeJSON(w, presets)
}

// ScenarioRequest はシナリオ開始リクエスト
type ScenarioRequest struct {
	Preset      string  `json:"preset"`
	Duration    string  `json:"duration,omitempty"`
	Workers     int     `json:"workers,omitempty"`
	QueueSize   int     `json:"queue_size,omitempty"`
	PanicPolicy string  `json:"panic_policy,omitempty"`
	Tasks       *int    `json:"tasks,omitempty"`
	Rate        int     `json:"rate,omitempty"`
	PanicRatio  float64 `json:"panic_ratio,omitempty"`
}

// toConfig はリクエストからシナリオ設定を組み立てる
func (req ScenarioRequest) toConfig() (scenario.Config, error) {
	config := scenario.QuickScenario()
	if req.Preset != "" {
		preset, ok := scenario.GetPreset(req.Preset)
		if !ok {
			return config, errors.Errorf("unknown preset: %s", req.Preset)
		}
		config = preset
	}

	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return config, errors.Wrap(err, "invalid duration")
		}
		config.Duration = d
	}
	if req.Workers != 0 {
		config.PoolSize = req.Workers
	}
	if req.QueueSize != 0 {
		config.QueueSize = req.QueueSize
	}
	if req.PanicPolicy != "" {
		policy, err := worker.ParsePanicPolicy(req.PanicPolicy)
		if err != nil {
			return config, err
		}
		config.PanicPolicy = policy
	}
	if req.Tasks != nil {
		config.Tasks = *req.Tasks
	}
	if req.Rate != 0 {
		config.Rate = req.Rate
	}
	if req.PanicRatio != 0 {
		config.PanicRatio = req.PanicRatio
	}

	return config, config.Validate()
}

func (s *Server) handleScenarioStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config, err := req.toConfig()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "Scenario already running", http.StatusConflict)
		return
	}

	engine := scenario.New(config)
	engine.SetEventBus(s.bus)
	engine.SetMetrics(s.metrics)
	engine.SetLogger(s.log)

	s.config = config
	s.engine = engine
	s.running = true
	s.lastError = ""
	ctx := s.ctx
	s.mu.Unlock()

	go s.runScenario(ctx, engine)

	s.writeJSON(w, map[string]string{"status": "started", "scenario": config.Name})
}

// runScenario はバックグラウンドでシナリオを実行する
func (s *Server) runScenario(ctx context.Context, engine *scenario.Engine) {
	result, err := engine.Run(ctx)

	var errMsg string
	s.mu.Lock()
	s.running = false
	if err != nil {
		errMsg = err.Error()
		s.lastError = errMsg
	} else {
		s.lastResult = result
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error(message.WrapError(err, message.Fields{
			"message":  "scenario failed",
			"scenario": engine.Config().Name,
		}))
	}

	s.broadcast(map[string]interface{}{
		"type":   "scenario_complete",
		"result": result,
		"error":  errMsg,
	})
}

func (s *Server) handleScenarioStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		http.Error(w, "No scenario running", http.StatusBadRequest)
		return
	}
	if !s.stopScenario() {
		http.Error(w, "Scenario is not ready to stop yet", http.StatusConflict)
		return
	}

	s.writeJSON(w, map[string]string{"status": "stop requested"})
}

func (s *Server) stopScenario() bool {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	if engine == nil {
		return false
	}
	return engine.Stop()
}

func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data interface{}) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		s.log.Warning(message.WrapError(err, message.Fields{
			"message": "failed to encode broadcast",
		}))
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents はイベントバスのイベントを WebSocket クライアントへ転送する
func (s *Server) forwardEvents(ctx context.Context) {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(map[string]interface{}{
				"type":  "event",
				"event": event,
			})
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := s.status()
			if !status.Running {
				continue
			}

			s.broadcast(map[string]interface{}{
				"type":    "status",
				"status":  status,
				"metrics": s.metrics.Snapshot(),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error(message.WrapError(err, message.Fields{
			"message": "failed to encode JSON",
		}))
	}
}
