package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	rapid "github.com/mdhvn/rapid"
	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/metrics"
)

var (
	addr       = flag.String("addr", "127.0.0.1:7000", "address this node listens on")
	seed       = flag.String("seed", "", "seed node to join (host:port); empty starts a new cluster")
	metaFlag   = flag.String("metadata", "", "comma-separated key=value pairs attached to this node")
	metricsBnd = flag.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables it")
)

func main() {
	flag.Parse()

	self, err := membership.ParseEndpoint(*addr)
	if err != nil {
		log.Fatalf("invalid -addr %q: %v", *addr, err)
	}

	metrics.InitInfo(buildVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	opts := []rapid.Option{}
	if md := parseMetadata(*metaFlag); len(md) > 0 {
		opts = append(opts, rapid.WithMetadata(md))
	}

	var cluster *rapid.Cluster
	if *seed == "" {
		cluster, err = rapid.Start(self, opts...)
		if err != nil {
			log.Fatalf("failed to start cluster: %v", err)
		}
		log.Printf("started new cluster on %s", self)
	} else {
		seedEndpoint, err2 := membership.ParseEndpoint(*seed)
		if err2 != nil {
			log.Fatalf("invalid -seed %q: %v", *seed, err2)
		}
		cluster, err = rapid.Join(self, seedEndpoint, opts...)
		if err != nil {
			log.Fatalf("failed to join %s: %v", seedEndpoint, err)
		}
		log.Printf("joined cluster via %s; members now %v", seedEndpoint, cluster.MemberList())
	}

	cluster.Subscribe(rapid.EventViewChange, func(changes []rapid.NodeStatusChange) {
		for _, c := range changes {
			log.Printf("VIEW_CHANGE: %s %s", c.Endpoint, c.Status)
		}
	})
	cluster.Subscribe(rapid.EventKicked, func(changes []rapid.NodeStatusChange) {
		log.Printf("KICKED from the cluster, shutting down")
	})

	var exporter *metrics.Exporter
	if *metricsBnd != "" {
		exporter = metrics.NewExporter(*metricsBnd)
		go func() {
			if err := exporter.Start(); err != nil {
				log.Printf("metrics exporter on %s stopped: %v", *metricsBnd, err)
			}
		}()
		log.Printf("serving metrics on %s/metrics", *metricsBnd)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	if err := cluster.Shutdown(); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	if exporter != nil {
		if err := exporter.Stop(); err != nil {
			log.Printf("error stopping metrics exporter: %v", err)
		}
	}
}

// buildVersion is overridden at link time with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func parseMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			fmt.Fprintf(os.Stderr, "ignoring malformed -metadata entry %q\n", pair)
			continue
		}
		out[k] = v
	}
	return out
}
