package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"footergen/aiclient"
	"footergen/convert"
	"footergen/feed"
	"footergen/imagestore"
	"footergen/obs"
	"footergen/orchestrator"
	"footergen/redislock"
	"footergen/store"
	"footergen/streamq"
)

func main() {
	_ = godotenv.Load()

	shutdownObs, _ := obs.Init("convert-worker")
	defer func() { _ = shutdownObs(context.Background()) }()

	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if redisAddr == "" {
		log.Fatalf("REDIS_ADDR is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		DB:       readEnvIntDefault("REDIS_DB", 0),
	})

	jobFeed := feed.NewRedisFeed(rdb, readEnvDefault("JOB_EVENTS_PREFIX", ""))
	jobStore, err := store.NewRedisProcessingJobStore(rdb, jobFeed)
	if err != nil {
		log.Fatalf("init redis job store failed: %v", err)
	}

	var images *imagestore.Store
	if st, enabled, err := imagestore.NewFromEnv(); err != nil {
		if enabled {
			log.Fatalf("init image store failed: %v", err)
		}
	} else if enabled {
		images = st
		log.Printf("image store enabled bucket=%s", strings.TrimSpace(os.Getenv("OSS_BUCKET")))
	}

	ai, ok := aiclient.NewClientFromEnv()
	if !ok {
		log.Fatalf("AI_SIDECAR_ENDPOINT is empty: worker cannot run the pipeline")
	}

	streamKey := readEnvDefault("CONVERT_STREAM_KEY", "fg:convertjobs:stream")
	group := readEnvDefault("CONVERT_STREAM_GROUP", "fg-convert")
	maxLen := int64(readEnvIntDefault("CONVERT_STREAM_MAXLEN", 100000))
	q := streamq.NewRedisStreamQueue(rdb, streamKey, group, maxLen)

	ctx, cancel := signalContext()
	defer cancel()

	if err := q.EnsureGroup(ctx); err != nil {
		log.Fatalf("ensure stream group failed: %v", err)
	}

	tmpRoot := readEnvDefault("TMP_ROOT", "./tmp")
	lock := redislock.New(rdb, readEnvDefault("CONVERT_JOB_LOCK_PREFIX", ""))
	worker := convert.NewWorker(jobStore, images, ai, ai, ai, ai, lock, budgetFromEnv(), tmpRoot)

	consumerName := strings.TrimSpace(os.Getenv("WORKER_CONSUMER_NAME"))
	if consumerName == "" {
		consumerName = strings.TrimSpace(os.Getenv("HOSTNAME"))
	}
	cons := streamq.NewConsumer(rdb, streamKey, group, consumerName)
	cons.SetConcurrency(readEnvIntDefault("STREAM_CONCURRENCY", 4))
	log.Printf("convert-worker start stream=%s group=%s consumer=%s", streamKey, group, consumerName)

	go serveMetrics(readEnvDefault("METRICS_ADDR", ":9090"))

	err = cons.ConsumeLoop(ctx, func(ctx context.Context, jobID string) error {
		// handler should never crash the loop; all failures are persisted to job store.
		start := time.Now()
		err := worker.Process(ctx, jobID)
		obs.RecordWorkerJob("convert-worker", start, err)
		return err
	})
	if err != nil && err != context.Canceled {
		log.Fatalf("consume loop exited: %v", err)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           obs.WrapHTTP("convert-worker-metrics", mux),
		ReadHeaderTimeout: 3 * time.Second,
	}
	_ = srv.ListenAndServe()
}

func budgetFromEnv() orchestrator.Budget {
	b := orchestrator.DefaultBudget()
	if n := readEnvIntDefault("CONVERT_MAX_ATTEMPTS", b.MaxAttempts); n > 0 {
		b.MaxAttempts = n
	}
	if n := readEnvIntDefault("CONVERT_MIN_IMPROVEMENT", b.MinImprovement); n >= 0 {
		b.MinImprovement = n
	}
	return b
}

func readEnvDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func readEnvIntDefault(key string, defaultVal int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
		// second signal: hard exit
		select {
		case <-ch:
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()
	return ctx, cancel
}
