// Command fiberd-http is a demonstration HTTP/1.x server built on the
// fiber runtime, routing a couple of illustrative endpoints through
// package httpserver.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/wyzrun/fiberd/config"
	"github.com/wyzrun/fiberd/httpserver"
	"github.com/wyzrun/fiberd/internal/rtlog"
	"github.com/wyzrun/fiberd/netpoll"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	configPath := flag.String("config", "", "optional YAML config path")
	flag.Parse()

	log := rtlog.New("fiberd-http")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error().Err(err).Log("failed to load config")
			os.Exit(1)
		}
		cfg = loaded
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	mgr, err := netpoll.New(workers, false, "fiberd-http")
	if err != nil {
		log.Error().Err(err).Log("failed to construct I/O manager")
		os.Exit(1)
	}

	srv := httpserver.New(mgr, "demo", cfg.HTTP)
	srv.Handler = func(req *httpserver.Request) *httpserver.Response {
		resp := httpserver.NewResponse()
		switch req.Path {
		case "/":
			resp.SetHeader("Content-Type", "text/plain")
			resp.Body = []byte("fiberd-http: try /echo?msg=hello or /headers\n")
		case "/echo":
			resp.SetHeader("Content-Type", "text/plain")
			resp.Body = []byte(req.GetParam("msg", "") + "\n")
		case "/headers":
			resp.SetHeader("Content-Type", "text/plain")
			for k, v := range req.Headers {
				resp.Body = append(resp.Body, []byte(fmt.Sprintf("%s: %s\n", k, v))...)
			}
		default:
			resp.Status, resp.Reason = 404, "Not Found"
			resp.Body = []byte("not found\n")
		}
		return resp
	}

	if err := srv.Bind(*addr); err != nil {
		log.Error().Err(err).Log("failed to bind")
		os.Exit(1)
	}

	mgr.Start()
	srv.Start()
	log.Info().Str("addr", *addr).Log("http server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Log("shutting down")
	srv.Stop()
	mgr.Stop()
}
