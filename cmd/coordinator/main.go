package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcoord/discovery"
	"github.com/ryandielhenn/zephyrcoord/internal/telemetry"
	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/coordhttp"
	"github.com/ryandielhenn/zephyrcoord/pkg/durablelog"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
	"github.com/ryandielhenn/zephyrcoord/pkg/mutator"
	"github.com/ryandielhenn/zephyrcoord/pkg/propagation"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// 1. Connect to etcd, used both as the durable log backing store and
	// as the coordinator's own self-registration mechanism.
	endpoints := []string{"http://etcd:2379"}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		endpoints = []string{v}
	}
	sugar.Infow("connecting to etcd", "endpoints", endpoints)
	cli, err := discovery.NewClient(endpoints)
	if err != nil {
		log.Fatal(err)
	}
	defer cli.Close()

	addr := os.Getenv("SELF_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	leaseID, cancelLease, err := discovery.RegisterCoordinator(cli, addr, 10)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		cancelLease()
		_, _ = cli.Revoke(context.Background(), leaseID)
	}()

	// 2. Build the coordinator core on the durable log's current head.
	// Existing log records are not replayed (see below).
	dlog := durablelog.NewEtcdLog(cli, sugar)
	registry := membership.NewRegistry()
	buf := buffer.NewBuffer()

	head, err := dlog.Head(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	recovery := mutator.NopRecoveryCoordinator{}
	coord := mutator.New(registry, buf, dlog, recovery, head, nil, sugar)
	// TODO(coordinator-restart): a production boot path would walk every
	// record between 0 and head here, dispatching to coord.Recover*, then
	// call coord.RecoverFinish(). Replay depends on a durablelog.Log
	// iteration API this interface doesn't expose yet (etcd's key
	// ordering, not RecordID order, is what Append actually produces).

	// 3. Wire the propagation engine with an HTTP transport to each
	// subscriber's locator.
	transport := propagation.NewHTTPTransport(nil)
	engine := propagation.NewEngine(coord, transport, sugar)
	coord.SetEngine(engine)
	coord.StartUpdater()
	defer coord.HaltUpdater()

	// 4. Wire up HTTP coordinator endpoints.
	srv := coordhttp.NewServer(coord)
	mux := srv.NewMux()

	if v := os.Getenv("BUILD_VERSION"); v != "" {
		telemetry.SetBuildInfo(v, os.Getenv("BUILD_GIT_SHA"))
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":9090"
	}
	fmt.Println("zephyrcoord coordinator listening on", listenAddr)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		log.Fatal(err)
	}
}
