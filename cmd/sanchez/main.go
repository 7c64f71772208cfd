// Command sanchez wires together the .sanchez container, stream
// server/client, and their ambient (config, metrics, session log,
// health) packages behind two thin subcommands: serve and play. CLI
// argument UX itself is a non-goal — this is glue, not a user-facing
// player.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cbx-nz/sanchez/internal/config"
	"github.com/cbx-nz/sanchez/internal/container"
	"github.com/cbx-nz/sanchez/internal/framestore"
	"github.com/cbx-nz/sanchez/internal/metrics"
	"github.com/cbx-nz/sanchez/internal/playback"
	"github.com/cbx-nz/sanchez/internal/sessionlog"
	"github.com/cbx-nz/sanchez/internal/streamclient"
	"github.com/cbx-nz/sanchez/internal/streamserver"
	"github.com/cbx-nz/sanchez/internal/transport"
)

func main() {
	mode := flag.String("mode", "", "serve | play")
	kind := flag.String("kind", "tcp", "tcp | udp-unicast | udp-multicast | udp-broadcast")
	addr := flag.String("addr", "", "listen/dial address override; defaults come from config")
	envFile := flag.String("env", ".env", "path to a .env file to load before reading the environment")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("sanchez: load env file %s: %v", *envFile, err)
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("sanchez: shutting down")
		cancel()
	}()

	var err error
	switch *mode {
	case "serve":
		err = runServe(ctx, cfg, parseKind(*kind), *addr)
	case "play":
		err = runPlay(ctx, cfg, parseKind(*kind), *addr)
	default:
		fmt.Fprintln(os.Stderr, "usage: sanchez -mode=serve|play [-kind=tcp|udp-unicast|udp-multicast|udp-broadcast] [-addr=host:port]")
		os.Exit(2)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("sanchez: %v", err)
	}
}

func parseKind(s string) transport.Kind {
	switch s {
	case "udp-unicast":
		return transport.KindUDPUnicast
	case "udp-multicast":
		return transport.KindUDPMulticast
	case "udp-broadcast":
		return transport.KindUDPBroadcast
	default:
		return transport.KindTCPUnicast
	}
}

// openMetrics registers a Registry against the default Prometheus
// registerer and serves it over HTTP when cfg.MetricsAddr is set. A nil
// Registry is returned (and accepted everywhere downstream) when it
// isn't.
func openMetrics(cfg *config.Config) *metrics.Registry {
	if cfg.MetricsAddr == "" {
		return nil
	}
	reg := metrics.New(prometheus.DefaultRegisterer)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("sanchez: metrics server: %v", err)
		}
	}()
	log.Printf("sanchez: metrics listening on %s", cfg.MetricsAddr)
	return reg
}

func openSessionLog(cfg *config.Config) *sessionlog.Store {
	if cfg.SessionDB == "" {
		return nil
	}
	store, err := sessionlog.Open(cfg.SessionDB)
	if err != nil {
		log.Printf("sanchez: session log disabled, failed to open %s: %v", cfg.SessionDB, err)
		return nil
	}
	return store
}

// loadContainer reads the whole .sanchez file named by cfg.ContainerPath
// into an in-memory framestore.Store, since the server needs to send the
// same frames potentially more than once (loop mode) or out of the
// container's own lazy, non-restartable iteration order.
func loadContainer(path string) (container.Metadata, *framestore.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return container.Metadata{}, nil, err
	}
	defer f.Close()

	meta, cfg, reader, err := container.ReadHeader(f)
	if err != nil {
		return container.Metadata{}, nil, err
	}
	store := framestore.New(cfg.Width, cfg.Height)
	frames := reader.Iter()
	for {
		frame, err := frames.Next()
		if err != nil {
			break
		}
		if err := store.Push(frame); err != nil {
			return container.Metadata{}, nil, err
		}
	}
	return meta, store, nil
}

func runServe(ctx context.Context, cfg *config.Config, kind transport.Kind, addrOverride string) error {
	meta, store, err := loadContainer(cfg.ContainerPath)
	if err != nil {
		return fmt.Errorf("load container %s: %w", cfg.ContainerPath, err)
	}
	log.Printf("sanchez: loaded %s: %d frames, %dx%d", cfg.ContainerPath, store.Len(), store.Width(), store.Height())

	m := openMetrics(cfg)
	sessions := openSessionLog(cfg)
	if sessions != nil {
		defer sessions.Close()
	}
	srv := streamserver.New(m, sessions)
	opts := streamserver.Options{
		Loop:         cfg.Loop,
		Satellite:    cfg.Satellite,
		ChunkSize:    cfg.ChunkSize,
		FPS:          cfg.FPS,
		FECGroup:     cfg.FECGroup,
		SyncInterval: cfg.SyncInterval,
	}

	if kind == transport.KindTCPUnicast {
		addr := cfg.ListenTCP
		if addrOverride != "" {
			addr = addrOverride
		}
		ln, err := transport.ListenTCP(addr)
		if err != nil {
			return err
		}
		defer ln.Close()
		log.Printf("sanchez: tcp stream server listening on %s", ln.Addr())
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			go func() {
				defer conn.Close()
				if err := srv.Stream(ctx, kind, conn, meta, store, nil, opts); err != nil {
					log.Printf("sanchez: session on %s ended: %v", conn.RemoteAddr(), err)
				}
			}()
		}
	}

	conn, err := openServerConn(cfg, kind, addrOverride)
	if err != nil {
		return err
	}
	defer conn.Close()
	return srv.Stream(ctx, kind, conn, meta, store, nil, opts)
}

// openServerConn opens the single Conn a non-TCP server sends over.
func openServerConn(cfg *config.Config, kind transport.Kind, addrOverride string) (transport.Conn, error) {
	switch kind {
	case transport.KindUDPUnicast:
		addr := cfg.ListenUDP
		if addrOverride != "" {
			addr = addrOverride
		}
		return transport.DialUDP(addr)
	case transport.KindUDPMulticast:
		addr := cfg.MulticastGroup
		if addrOverride != "" {
			addr = addrOverride
		}
		group, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("multicast group %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("multicast port %q: %w", portStr, err)
		}
		return transport.NewMulticastSender(group, port, 1)
	case transport.KindUDPBroadcast:
		addr := cfg.BroadcastAddr
		if addrOverride != "" {
			addr = addrOverride
		}
		_, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("broadcast address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("broadcast port %q: %w", portStr, err)
		}
		return transport.NewBroadcastSender(port)
	default:
		return nil, fmt.Errorf("unsupported non-tcp transport kind %s", kind)
	}
}

// openClientConn opens the Conn a receiver reads a pushed stream over.
func openClientConn(cfg *config.Config, kind transport.Kind, addrOverride string) (transport.Conn, error) {
	switch kind {
	case transport.KindTCPUnicast:
		addr := cfg.ListenTCP
		if addrOverride != "" {
			addr = addrOverride
		}
		return transport.DialTCP(addr)
	case transport.KindUDPUnicast:
		addr := cfg.ListenUDP
		if addrOverride != "" {
			addr = addrOverride
		}
		return transport.ListenUDP(addr)
	case transport.KindUDPMulticast:
		addr := cfg.MulticastGroup
		if addrOverride != "" {
			addr = addrOverride
		}
		_, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("multicast group %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("multicast port %q: %w", portStr, err)
		}
		var iface *net.Interface
		if cfg.MulticastIface != "" {
			iface, err = net.InterfaceByName(cfg.MulticastIface)
			if err != nil {
				return nil, fmt.Errorf("multicast iface %q: %w", cfg.MulticastIface, err)
			}
		}
		return transport.JoinMulticast(strippedHost(addr), port, iface)
	case transport.KindUDPBroadcast:
		addr := cfg.BroadcastAddr
		if addrOverride != "" {
			addr = addrOverride
		}
		_, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("broadcast address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("broadcast port %q: %w", portStr, err)
		}
		return transport.ListenBroadcast(port)
	default:
		return nil, fmt.Errorf("unsupported transport kind %s", kind)
	}
}

func strippedHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func runPlay(ctx context.Context, cfg *config.Config, kind transport.Kind, addrOverride string) error {
	conn, err := openClientConn(cfg, kind, addrOverride)
	if err != nil {
		return err
	}
	defer conn.Close()

	m := openMetrics(cfg)
	client := streamclient.New(conn, kind, m)
	meta, containerCfg, err := client.ReadHeader(ctx, streamclient.Options{SyncInterval: cfg.SyncInterval, MaxFrameLag: cfg.MaxFrameLag})
	if err != nil {
		return fmt.Errorf("read stream header: %w", err)
	}
	log.Printf("sanchez: playing %q (%dx%d, %d frames)", meta.Title, containerCfg.Width, containerCfg.Height, containerCfg.FrameCount)

	sched := playback.New(meta, containerCfg.FrameCount, playback.Options{FPS: cfg.FPS, Loop: cfg.Loop})
	for {
		item, err := client.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Println("sanchez: stream ended")
				return nil
			}
			return fmt.Errorf("stream read: %w", err)
		}
		idx, _ := sched.Tick(time.Now())
		switch item.Kind {
		case streamclient.ItemFrame:
			log.Printf("sanchez: frame %d delivered (scheduler at %d)", item.FrameIndex, idx)
		case streamclient.ItemLost:
			log.Printf("sanchez: frame %d lost", item.FrameIndex)
		}
	}
}
