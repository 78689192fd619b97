// Command echoserver runs a TCP echo server on top of ringnet: every
// frame a client sends is published to the channel's input ring and a
// goroutine bridges it straight back out to the same channel's output
// ring. Mirrors the flag-based config and signal-driven graceful
// shutdown of the teacher's order-matching-engine server command.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rishav/ringnet"
	"github.com/rishav/ringnet/internal/selector"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:0", "address to bind")
	pool := flag.Int("pool", 0, "selector thread count (0 = number of CPUs)")
	capacity := flag.Int64("capacity", 1024, "ring buffer capacity (rounded to a power of two)")
	rate := flag.Int64("rate-bytes-per-sec", 0, "per-channel byte rate limit (0 = unlimited)")
	flag.Parse()

	sp, err := selector.NewPool(*pool)
	if err != nil {
		log.Fatalf("echoserver: selector pool: %v", err)
	}
	defer sp.Shutdown()

	cfg := ringnet.DefaultConfig()
	cfg.PoolSize = *pool
	cfg.Capacity = *capacity
	cfg.RateBytesPerSec = *rate

	server := ringnet.NewChannel(sp, cfg)
	server.OnAccept(func(child *ringnet.MessageChannel) {
		log.Printf("echoserver: accepted connection")
		go echoLoop(child)
	})

	bindFut := server.Bind(*addr)
	if _, err := bindFut.Wait(context.Background()); err != nil {
		log.Fatalf("echoserver: bind: %v", err)
	}
	log.Printf("echoserver: listening on %s", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("echoserver: received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := server.Close().Wait(shutdownCtx); err != nil {
		log.Printf("echoserver: shutdown error: %v", err)
	}
}

// echoLoop copies every frame published to child's input ring back out
// to its output ring, running as the "application thread" side of the
// channel (spec §5's application thread population).
func echoLoop(child *ringnet.MessageChannel) {
	prov := child.GetInputBuffer()
	ctx := context.Background()
	consumerSeq := int64(-1)

	for {
		next := consumerSeq + 1
		published, err := prov.In.WaitFor(ctx, next)
		if err != nil {
			return
		}
		for seq := next; seq <= published; seq++ {
			in := prov.In.Get(seq)
			data := append([]byte(nil), in.Bytes()...)

			outSeq, err := prov.Out.Acquire(ctx)
			if err != nil {
				return
			}
			prov.Out.Get(outSeq).Set(data)
			prov.Out.Release(outSeq)
		}
		prov.In.Advance(published)
		consumerSeq = published
	}
}
