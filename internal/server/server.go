package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/redis/go-redis/v9"

	"github.com/joeblew999/plat-map/internal/api"
	"github.com/joeblew999/plat-map/internal/cache"
	"github.com/joeblew999/plat-map/internal/db"
	"github.com/joeblew999/plat-map/internal/location"
	"github.com/joeblew999/plat-map/internal/location/replay"
	"github.com/joeblew999/plat-map/internal/logger"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/track"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string

	// TrackFile is a GeoJSON track replayed as the location feed.
	// Location routes answer 503 when it is empty.
	TrackFile string
	Interval  time.Duration
	Loop      bool

	// Record stores every fix in DuckDB under DataDir.
	Record bool

	RedisAddr  string
	RedisPass  string
	RedisDB    int
	LastFixTTL time.Duration
}

// Server is the map HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	redis    *redis.Client
	feed     *replay.Feed
	services *api.Services
	log      *slog.Logger
}

// New creates the server and its services. Nothing subscribes to the
// location feed until Start.
func New(cfg Config) (*Server, error) {
	log := logger.L()
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-map API", "1.0.0")
	humaConfig.Info.Description = "Map layer tree and live location API."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	bus := service.NewEventBus()
	layers, err := service.NewLayerService(cfg.DataDir, bus)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		log:     log,
		services: &api.Services{
			Layer: layers,
			Bus:   bus,
		},
	}

	if cfg.TrackFile != "" {
		feed, err := replay.Load(cfg.TrackFile, replay.WithInterval(cfg.Interval), replay.WithLoop(cfg.Loop))
		if err != nil {
			return nil, err
		}
		s.feed = feed
		s.services.Hub = location.NewHub(feed)
	}

	if cfg.Record {
		conn, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "track"})
		if err == nil {
			rec, err := track.NewRecorder(context.Background(), conn)
			if err == nil {
				s.db = conn
				s.services.Track = rec
			} else {
				conn.Close()
				log.Warn("track_disabled", "err", err)
			}
		} else {
			log.Warn("track_disabled", "err", err)
		}
	}

	s.redis = cache.OpenRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	s.services.Last = cache.NewLastFix(s.redis, cfg.LastFixTTL)

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the wired services.
func (s *Server) Services() *api.Services { return s.services }

// Start attaches the track recorder and last-fix cache to the location hub,
// which starts the feed.
func (s *Server) Start() error {
	hub := s.services.Hub
	if hub == nil {
		return nil
	}
	listeners := []location.Listener{s.services.Last}
	if s.services.Track != nil {
		listeners = append(listeners, s.services.Track)
	}
	for _, l := range listeners {
		if err := hub.AddListener(l); err != nil {
			return err
		}
	}
	s.log.Info("server_started", "listeners", hub.Len(), "track", s.config.TrackFile)
	return nil
}

// Close detaches every listener, stops the feed and closes connections.
func (s *Server) Close() error {
	var errs []error
	if hub := s.services.Hub; hub != nil {
		errs = append(errs, hub.Close())
	}
	if s.feed != nil {
		errs = append(errs, s.feed.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) routes() {
	// Huma REST API and Datastar SSE routes
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.DataDir, s.services, s.redis != nil).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-map",
		"status":  "running",
	})
}
