// ABOUTME: Standalone fake Direct Line endpoint for local end-to-end runs
// ABOUTME: Usage: fake-directline [-addr 127.0.0.1:3978] [-secret dev-secret] [-delay 0s]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389/clonepilot/internal/directline/directlinetest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3978", "listen address")
	secret := flag.String("secret", "dev-secret", "Direct Line secret clients must present")
	delay := flag.Duration("delay", 0, "delay before the echoed reply becomes visible")
	flag.Parse()

	if err := run(*addr, *secret, *delay); err != nil {
		log.Fatal(err)
	}
}

func run(addr, secret string, delay time.Duration) error {
	fake := directlinetest.New()
	fake.Secret = secret
	fake.SetReplyDelay(delay)

	srv := &http.Server{
		Addr:              addr,
		Handler:           fake,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "fake Direct Line listening, endpoint %s\n", directlinetest.Endpoint("http://"+addr))
	fmt.Fprintf(os.Stderr, "run the relay with DIRECTLINE_ENDPOINT=%s DIRECTLINE_SECRET=%s\n",
		directlinetest.Endpoint("http://"+addr), secret)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
