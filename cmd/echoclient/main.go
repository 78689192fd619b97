// Command echoclient connects to an echoserver, sends a configurable
// number of fixed-size frames, and verifies they come back in order
// (the manual equivalent of spec §8 scenario S1).
package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"time"

	"github.com/rishav/ringnet"
	"github.com/rishav/ringnet/internal/selector"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "server address to connect to")
	count := flag.Int("count", 1000, "number of frames to send")
	flag.Parse()

	sp, err := selector.NewPool(1)
	if err != nil {
		log.Fatalf("echoclient: selector pool: %v", err)
	}
	defer sp.Shutdown()

	cfg := ringnet.DefaultConfig()
	client := ringnet.NewChannel(sp, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Connect(*addr).Wait(ctx); err != nil {
		log.Fatalf("echoclient: connect: %v", err)
	}
	log.Printf("echoclient: connected to %s", *addr)

	prov := client.GetOutputBuffer()
	frame := []byte{0x01, 0x02, 0x03, 0x04}

	go func() {
		for i := 0; i < *count; i++ {
			seq, err := prov.Out.Acquire(context.Background())
			if err != nil {
				return
			}
			prov.Out.Get(seq).Set(frame)
			prov.Out.Release(seq)
		}
	}()

	received := 0
	consumerSeq := int64(-1)
	readCtx := context.Background()
	for received < *count {
		next := consumerSeq + 1
		published, err := prov.In.WaitFor(readCtx, next)
		if err != nil {
			log.Fatalf("echoclient: wait: %v", err)
		}
		for seq := next; seq <= published; seq++ {
			got := prov.In.Get(seq).Bytes()
			if !bytes.Equal(got, frame) {
				log.Fatalf("echoclient: frame mismatch at seq %d: got %x", seq, got)
			}
			received++
		}
		prov.In.Advance(published)
		consumerSeq = published
	}

	log.Printf("echoclient: received %d frames in order", received)
	if _, err := client.Close().Wait(context.Background()); err != nil {
		log.Printf("echoclient: close error: %v", err)
	}
}
