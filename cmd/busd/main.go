// Command busd is a minimal launcher for the message bus core: it wires a
// Registry, a Router/Services Dispatcher, and a transport.Loop together and
// runs until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"code.hybscloud.com/msgbus"
	"code.hybscloud.com/msgbus/dispatch"
	"code.hybscloud.com/msgbus/internal/logging"
	"code.hybscloud.com/msgbus/transport"
)

func main() {
	var (
		network        = flag.String("network", "unix", `listener network: "tcp", "unix", or "pipe" for an in-process demo pair`)
		address        = flag.String("address", "/run/busd.sock", "listen address (ignored for -network=pipe)")
		maxMessageSize = flag.Int("max-message-size", 128<<20, "maximum combined header+body size per message, 0 for unbounded")
		verbose        = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.New(logConfig)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services := dispatch.NewServices()
	loop := transport.NewLoop(0)

	// Router and Registry have a small circular dependency (Router wants the
	// Registry for serial allocation; Registry wants a Dispatcher at
	// construction), resolved by constructing Router first and handing it
	// the Registry once that exists.
	r := dispatch.NewRouter(services, nil)
	registry := bus.NewRegistry(loop, r, services, bus.WithMaxMessageSize(*maxMessageSize), bus.WithLogger(logger))
	r.BindRegistry(registry)

	go loop.Run(ctx)

	switch *network {
	case "pipe":
		runPipeDemo(logger, registry, r, loop)
	case "tcp", "unix":
		if err := runListener(ctx, *network, *address, logger, registry, r, loop); err != nil {
			log.Fatalf("busd: %v", err)
		}
	default:
		log.Fatalf("busd: unknown -network %q", *network)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infof("busd: shutting down")
}

func runPipeDemo(logger bus.Logger, registry *bus.Registry, router *dispatch.Router, loop *transport.Loop) {
	a, b := transport.NewPipePair(logger, 16)
	connA := registry.Setup(a)
	connB := registry.Setup(b)
	if err := a.Bind(connA, router, loop); err != nil {
		logger.Errorf("busd: bind a: %v", err)
	}
	if err := b.Bind(connB, router, loop); err != nil {
		logger.Errorf("busd: bind b: %v", err)
	}
	fmt.Println("busd: pipe demo running; two connections bound, serving on the pipe pair")
}

func runListener(ctx context.Context, network, address string, logger bus.Logger, registry *bus.Registry, router *dispatch.Router, loop *transport.Loop) error {
	srv, err := transport.Listen(network, address)
	if err != nil {
		return err
	}
	fmt.Printf("busd: listening on %s %s\n", network, srv.Addr())

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	go func() {
		for {
			st, err := srv.Accept(logger, 16)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Errorf("busd: accept: %v", err)
				continue
			}
			conn := registry.Setup(st)
			if err := st.Bind(conn, router, loop); err != nil {
				logger.Errorf("busd: bind: %v", err)
				continue
			}
			logger.Infof("busd: accepted connection")
		}
	}()
	return nil
}
