// Command demo spins up several in-process nodes over real local TCP
// sockets, joins them into one cluster, and prints every lifecycle event
// each node observes until interrupted.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	rapid "github.com/mdhvn/rapid"
	"github.com/mdhvn/rapid/internal/membership"
)

var (
	nodes    = flag.Int("nodes", 5, "number of nodes to bring up")
	basePort = flag.Int("base-port", 7000, "first node listens on 127.0.0.1:base-port, the rest increment from there")
)

func main() {
	flag.Parse()
	if *nodes < 1 {
		log.Fatal("-nodes must be at least 1")
	}

	endpoints := make([]membership.Endpoint, *nodes)
	for i := range endpoints {
		endpoints[i] = membership.NewEndpoint("127.0.0.1", *basePort+i)
	}

	seedAddr := endpoints[0]
	seed, err := rapid.Start(seedAddr, rapid.WithMetadata(map[string]string{"role": "seed"}))
	if err != nil {
		log.Fatalf("starting seed %s: %v", seedAddr, err)
	}
	subscribeAll(seedAddr, seed)

	clusters := []*rapid.Cluster{seed}
	for i := 1; i < len(endpoints); i++ {
		listenAddr := endpoints[i]
		// Stagger joins so the seed's watermark buffer sees one admission
		// at a time instead of racing every node's phase 1 simultaneously.
		time.Sleep(500 * time.Millisecond)

		c, err := rapid.Join(listenAddr, seedAddr, rapid.WithMetadata(map[string]string{"role": "member"}))
		if err != nil {
			log.Fatalf("joining %s via %s: %v", listenAddr, seedAddr, err)
		}
		subscribeAll(listenAddr, c)
		clusters = append(clusters, c)
	}

	defer func() {
		for i, c := range clusters {
			if err := c.Shutdown(); err != nil {
				log.Printf("shutdown %s: %v", endpoints[i], err)
			}
		}
	}()

	for tries := 0; tries < 30; tries++ {
		fmt.Printf("%d seed cluster size %d\n", time.Now().UnixMilli(), seed.MembershipSize())
		time.Sleep(time.Second)
	}
}

func subscribeAll(self membership.Endpoint, c *rapid.Cluster) {
	c.Subscribe(rapid.EventViewChangeProposal, func(changes []rapid.NodeStatusChange) {
		log.Printf("%s: proposal outputted: %v", self, changes)
	})
	c.Subscribe(rapid.EventViewChange, func(changes []rapid.NodeStatusChange) {
		log.Printf("%s: view change detected: %v", self, changes)
	})
	c.Subscribe(rapid.EventViewChangeOneStepFailed, func(changes []rapid.NodeStatusChange) {
		log.Printf("%s: conflict during one-step consensus: %v", self, changes)
	})
	c.Subscribe(rapid.EventKicked, func(changes []rapid.NodeStatusChange) {
		log.Printf("%s: kicked from the network: %v", self, changes)
	})
}
