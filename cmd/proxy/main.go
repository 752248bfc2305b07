// Command proxy runs a stateless meshkv proxy: a RESP2 listener that hashes
// each keyed command onto one of N storage nodes by consistent hashing,
// gated by a locally cached view of the health registry, and relays the
// backend's reply back to the client unmodified.
//
// Configuration:
//   - --host, --port: client-facing RESP listener bind address
//   - --proxy-id: identifies this proxy in logs/metrics
//   - --cluster-nodes: comma-separated "id@host:port" (or bare "host:port")
//     node list the ring is built from
//   - --health-service: base URL of the health registry's REST listener
//   - --check-interval: how often the proxy repolls the health registry
//   - --virtual-nodes: hash ring virtual nodes per physical node
//   - --admin-addr: optional /metrics listener
//   - --config: YAML file merged under explicit flags (flags win)
//
// Example usage:
//
//	./proxy --proxy-id=proxy-1 --port=6390 \
//	  --cluster-nodes=node-1@10.0.0.1:6381,node-2@10.0.0.2:6381 \
//	  --health-service=http://healthd:8500
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/hashring"
	"github.com/dreamware/meshkv/internal/health"
	"github.com/dreamware/meshkv/internal/metrics"
	"github.com/dreamware/meshkv/internal/proxy"
)

func main() {
	cfg := cluster.DefaultConfig()

	configPath := flag.String("config", "", "optional YAML config file, merged under explicit flags")
	host := flag.String("host", cfg.Host, "client-facing RESP listener bind host")
	port := flag.Int("port", cfg.Port, "client-facing RESP listener bind port")
	proxyID := flag.String("proxy-id", "", "unique proxy identifier (required)")
	clusterNodes := flag.String("cluster-nodes", cfg.ClusterNodes, "comma-separated id@host:port node list")
	healthService := flag.String("health-service", cfg.HealthService, "base URL of the health registry REST listener (required)")
	checkIntervalSec := flag.Int("check-interval", cfg.CheckIntervalSec, "seconds between health registry repolls")
	virtualNodes := flag.Int("virtual-nodes", cfg.VirtualNodes, "hash ring virtual nodes per physical node")
	adminAddr := flag.String("admin-addr", "", "optional admin HTTP listener for /metrics (disabled if empty)")
	flag.Parse()

	if *configPath != "" {
		loaded, err := cluster.LoadYAML(*configPath, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
		explicit := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		for name, val := range map[string]string{
			"host": cfg.Host, "port": strconv.Itoa(cfg.Port), "proxy-id": cfg.ProxyID,
			"cluster-nodes": cfg.ClusterNodes, "health-service": cfg.HealthService,
			"check-interval": strconv.Itoa(cfg.CheckIntervalSec), "virtual-nodes": strconv.Itoa(cfg.VirtualNodes),
			"admin-addr": cfg.AdminAddr,
		} {
			if !explicit[name] {
				_ = flag.Set(name, val)
			}
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "proxy: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if *proxyID == "" {
		sugar.Fatal("missing required --proxy-id")
	}
	if *healthService == "" {
		sugar.Fatal("missing required --health-service")
	}
	nodes, err := cluster.ParseNodeList(*clusterNodes)
	if err != nil {
		sugar.Fatalw("invalid --cluster-nodes", "error", err)
	}
	if len(nodes) == 0 {
		sugar.Fatal("--cluster-nodes must name at least one node")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	checkInterval := time.Duration(*checkIntervalSec) * time.Second
	router, cache := buildRouter(nodes, *healthService, checkInterval, *virtualNodes, logger, m)
	if err := cache.Poll(context.Background()); err != nil {
		sugar.Warnw("initial health registry poll failed, nodes start UNKNOWN", "error", err)
	}
	defer router.Close()

	srv := proxy.NewServer(router, logger.Named("proxy"))

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		sugar.Fatalw("listen failed", "addr", fmt.Sprintf("%s:%d", *host, *port), "error", err)
	}
	sugar.Infow("proxy listening", "proxy_id", *proxyID, "addr", ln.Addr().String(), "nodes", len(nodes))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Serve(ln)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		cache.Run(gctx, checkInterval, func(err error) {
			sugar.Warnw("health registry poll failed", "error", err)
		})
		return nil
	})

	if *adminAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		admin := &http.Server{Addr: *adminAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return admin.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})

	<-gctx.Done()
	sugar.Info("shutting down, draining")

	if err := g.Wait(); err != nil {
		sugar.Errorw("component error during shutdown", "error", err)
	}
	sugar.Info("proxy stopped")
}

// buildRouter wires a hash ring, health cache, and Router from a node list
// and health-service URL, split out from main so tests can build a Router
// without going through flag parsing.
func buildRouter(nodes []cluster.NodeInfo, healthServiceURL string, checkInterval time.Duration, virtualNodes int, logger *zap.Logger, m *metrics.Metrics) (*proxy.Router, *health.Cache) {
	ring := hashring.NewManager(virtualNodes)
	ring.Update(nodes)

	cache := health.NewCache(healthServiceURL, 2*checkInterval)

	router := proxy.NewRouter(ring, cache, logger.Named("router"), m)
	router.SetNodes(nodes)
	return router, cache
}
