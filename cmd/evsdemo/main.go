// Command evsdemo wires a handful of engine.Engine instances together
// over an in-memory multicast transport, driven by a go-eventloop timer
// loop, and prints the view changes and payloads each node observes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/javacruft/galera/engine"
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/memtransport"
	"github.com/javacruft/galera/wire"
	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

type demoUpper struct {
	name string
}

func (u *demoUpper) HandleUp(payload []byte, meta engine.UpMeta) {
	if meta.View != nil {
		fmt.Printf("[%s] view %s type=%s members=%d\n", u.name, meta.View.Id, meta.View.Type, len(meta.View.Members))
		return
	}
	fmt.Printf("[%s] delivered %q from %s\n", u.name, payload, meta.Source)
}

type demoNode struct {
	name   string
	engine *engine.Engine
	trans  *memtransport.Node
}

func main() {
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)))

	hub := memtransport.NewHub(0.05, 42)
	names := []string{"alpha", "bravo", "charlie"}
	nodes := make([]*demoNode, len(names))
	for i, name := range names {
		trans := hub.Join()
		nodes[i] = &demoNode{
			name:  name,
			trans: trans,
			engine: engine.New(engine.Config{
				Self:      ident.New(),
				Name:      name,
				Transport: trans,
				Upper:     &demoUpper{name: name},
				Logger:    logger,
			}),
		}
	}

	loop, err := eventloop.New()
	if err != nil {
		log.Fatalf("evsdemo: new loop: %v", err)
	}
	js, err := eventloop.NewJS(loop)
	if err != nil {
		log.Fatalf("evsdemo: new js: %v", err)
	}

	pumpAll := func() {
		for _, n := range nodes {
			_ = n.trans.Drain(n.engine.HandleMsg)
		}
	}

	if _, err := js.SetInterval(func() {
		pumpAll()
		for _, n := range nodes {
			_ = n.engine.Consensus()
			_ = n.engine.Install()
			_ = n.engine.Resend()
		}
	}, 20); err != nil {
		log.Fatalf("evsdemo: schedule pump: %v", err)
	}

	js.SetTimeout(func() {
		for _, n := range nodes {
			if err := n.engine.Connect(); err != nil {
				log.Fatalf("evsdemo: %s connect: %v", n.name, err)
			}
		}
	}, 0)

	js.SetTimeout(func() {
		pumpAll()
		if err := nodes[0].engine.Send([]byte("hello from alpha"), 1, wire.Safe, false); err != nil {
			log.Fatalf("evsdemo: send: %v", err)
		}
	}, 200)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	js.SetTimeout(func() {
		loop.Shutdown(ctx)
	}, 1500)

	if err := loop.Run(ctx); err != nil {
		log.Fatalf("evsdemo: run: %v", err)
	}
}
