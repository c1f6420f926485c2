// Command fiberd-echo is a demonstration TCP echo server built on the
// fiber runtime: one fiber per accepted connection, every Read/Write
// suspending on I/O readiness instead of blocking an OS thread.
package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/wyzrun/fiberd/config"
	"github.com/wyzrun/fiberd/hook"
	"github.com/wyzrun/fiberd/internal/rtlog"
	"github.com/wyzrun/fiberd/netpoll"
	"github.com/wyzrun/fiberd/tcpserver"
)

func main() {
	addr := flag.String("addr", ":7000", "address to listen on")
	configPath := flag.String("config", "", "optional YAML config path")
	flag.Parse()

	log := rtlog.New("fiberd-echo")

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
	mgr, err := netpoll.New(workers, false, "fiberd-echo")
	if err != nil {
		log.Error().Err(err).Log("failed to construct I/O manager")
		os.Exit(1)
	}

	srv := tcpserver.New(mgr, "echo")
	srv.RecvTimeout = cfg.DefaultReceiveTimeout
	srv.HandleClient = func(conn *hook.Conn) {
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}

	if err := srv.Bind(*addr); err != nil {
		log.Error().Err(err).Log("failed to bind")
		os.Exit(1)
	}

	mgr.Start()
	srv.Start()
	log.Info().Str("addr", *addr).Log("echo server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Log("shutting down")
	srv.Stop()
	mgr.Stop()
}
