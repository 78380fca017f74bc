package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/cart"
	"github.com/ariefcatur/go-cart-orders/internal/clock"
	"github.com/ariefcatur/go-cart-orders/internal/config"
	"github.com/ariefcatur/go-cart-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-cart-orders/internal/kafka"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/redisx"
	"github.com/ariefcatur/go-cart-orders/internal/seed"
	"github.com/ariefcatur/go-cart-orders/internal/store"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer backend.Close()
	if err := backend.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if cfg.SeedFile != "" {
		f, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		res, err := seed.Apply(ctx, backend, f)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Printf("seeded %d member(s), %d item(s) from %s", res.Members, res.Items, cfg.SeedFile)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	created := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	created.Start(ctx)
	cancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024)
	cancelled.Start(ctx)

	// Services & handlers
	clk := clock.NewSystem()
	cartSvc := cart.NewService(backend, backend, backend, clk)
	orderSvc := orders.NewService(backend, backend, backend, clk,
		orders.WithEvents(created, cancelled, cfg.ServiceName))

	router := httpx.NewRouter(map[string]httpx.HealthCheck{
		"store": backend.Ping,
		"redis": func(ctx context.Context) error { return redisx.Ping(ctx, rdb) },
	})
	(&httpx.CartHandler{Service: cartSvc}).Register(router)
	(&httpx.OrdersHandler{
		Service:  orderSvc,
		Cache:    redisx.NewCache(rdb),
		PageSize: cfg.HistoryPageSize,
	}).Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening at %s (store=%s)", cfg.HTTPAddr, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// Publish drops once a producer is closed, so handlers still running after a
	// shutdown timeout cannot panic.
	created.Close()
	cancelled.Close()
	created.WaitClosed()
	cancelled.WaitClosed()
}
