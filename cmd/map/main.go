package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-map/internal/layer"
	"github.com/joeblew999/plat-map/internal/logger"
	"github.com/joeblew999/plat-map/internal/server"
	"github.com/joeblew999/plat-map/internal/service"
)

// Options defines all CLI flags and env vars for the map server.
// Flags: --host, --port, --data-dir, --track, --interval, --loop, --record,
// --redis-addr, --redis-pass, --redis-db, --last-fix-ttl
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_TRACK, ...
type Options struct {
	Host       string `doc:"Host to bind to" default:"0.0.0.0"`
	Port       int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir    string `doc:"Directory for layers and the track database" default:".data"`
	Track      string `doc:"GeoJSON track replayed as the location feed"`
	Interval   string `doc:"Delay between replayed fixes" default:"1s"`
	Loop       bool   `doc:"Restart the replay when it reaches the end" default:"true"`
	Record     bool   `doc:"Record fixes in DuckDB" default:"true"`
	RedisAddr  string `doc:"Redis address for the last-fix mirror"`
	RedisPass  string `doc:"Redis password"`
	RedisDB    int    `doc:"Redis database" default:"0"`
	LastFixTTL string `doc:"Expiry of the mirrored last fix" default:"10m"`
}

func newServer(opts *Options) (*server.Server, error) {
	interval, err := time.ParseDuration(opts.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid interval: %w", err)
	}
	ttl, err := time.ParseDuration(opts.LastFixTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid last-fix-ttl: %w", err)
	}
	return server.New(server.Config{
		Host:       opts.Host,
		Port:       fmt.Sprintf("%d", opts.Port),
		DataDir:    opts.DataDir,
		TrackFile:  opts.Track,
		Interval:   interval,
		Loop:       opts.Loop,
		Record:     opts.Record,
		RedisAddr:  opts.RedisAddr,
		RedisPass:  opts.RedisPass,
		RedisDB:    opts.RedisDB,
		LastFixTTL: ttl,
	})
}

func main() {
	// .env is optional
	_ = godotenv.Load(".env")
	logger.Setup()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			srv     *server.Server
			httpSrv *http.Server
		)

		hooks.OnStart(func() {
			var err error
			srv, err = newServer(opts)
			if err != nil {
				log.Fatalf("Server setup error: %v", err)
			}
			if err := srv.Start(); err != nil {
				log.Fatalf("Location feed error: %v", err)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-map API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			if opts.Track != "" {
				fmt.Printf("  Track:   %s (every %s)\n", opts.Track, opts.Interval)
			}
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			if httpSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(ctx)
			}
			if srv != nil {
				if err := srv.Close(); err != nil {
					logger.L().Warn("server_close_error", "err", err)
				}
			}
		})
	})

	cli.Root().Use = "map"
	cli.Root().Short = "Map layers and live location"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			doc, err := openAPIDoc(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			useYAML, _ := cmd.Flags().GetBool("yaml")
			printValue(doc, useYAML)
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// layer subcommands: inspect layer directories on disk
	layerCmd := &cobra.Command{
		Use:   "layer",
		Short: "Inspect layer directories",
	}
	showCmd := &cobra.Command{
		Use:   "show [dir]",
		Short: "Print a layer and its children (defaults to <data-dir>/map)",
		Args:  cobra.MaximumNArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			dir := filepath.Join(opts.DataDir, "map")
			if len(args) == 1 {
				dir = args[0]
			}
			n, err := loadLayer(dir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			useYAML, _ := cmd.Flags().GetBool("yaml")
			printValue(service.Info(n), useYAML)
		}),
	}
	showCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	layerCmd.AddCommand(showCmd)
	cli.Root().AddCommand(layerCmd)

	cli.Run()
}

// openAPIDoc builds a server only to describe its API. It uses a throwaway
// data directory and no feed or database, so nothing under opts.DataDir is created.
func openAPIDoc(opts *Options) (*huma.OpenAPI, error) {
	tmp, err := os.MkdirTemp("", "plat-map-spec-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	o := *opts
	o.DataDir, o.Track, o.Record, o.RedisAddr = tmp, "", false, ""
	srv, err := newServer(&o)
	if err != nil {
		return nil, err
	}
	defer srv.Close()
	return srv.OpenAPI(), nil
}

// loadLayer reads dir as a group or a plain layer depending on its stored type.
func loadLayer(dir string) (layer.Node, error) {
	doc, err := layer.ReadDocument(filepath.Join(dir, layer.ConfigFile))
	if err != nil {
		return nil, err
	}
	typ, err := doc.Int(layer.KeyType)
	if err != nil {
		return nil, err
	}
	n := layer.DefaultFactory(dir, layer.Type(typ))
	if err := n.Load(); err != nil {
		return nil, err
	}
	return n, nil
}

func printValue(v any, useYAML bool) {
	var output []byte
	var err error
	if useYAML {
		output, err = yaml.Marshal(v)
	} else {
		output, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}
