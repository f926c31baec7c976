package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"footergen/convert"
	"footergen/feed"
	"footergen/imagestore"
	"footergen/obs"
	"footergen/orchestrator"
	"footergen/store"
	"footergen/streamq"
	"footergen/trigger"
)

func main() {
	_ = godotenv.Load()

	shutdownObs, _ := obs.Init("footer-api")
	defer func() { _ = shutdownObs(context.Background()) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if redisAddr == "" {
		log.Fatalf("REDIS_ADDR is empty: the streams queue mode requires Redis")
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

	streamKey := readEnvDefault("CONVERT_STREAM_KEY", "fg:convertjobs:stream")
	group := readEnvDefault("CONVERT_STREAM_GROUP", "fg-convert")
	maxLen := int64(readEnvIntDefault("CONVERT_STREAM_MAXLEN", 100000))
	q := streamq.NewRedisStreamQueue(rdb, streamKey, group, maxLen)

	budget := budgetFromEnv()
	tmpRoot := readEnvDefault("TMP_ROOT", "./tmp")
	svc := convert.NewService(jobStore, jobFeed, trigger.NewQueueTrigger(q), images, budget, tmpRoot)
	svc.RegisterRoutes(mux)

	addr := ":" + readEnvDefault("PORT", "8080")
	log.Printf("footer-api listening on %s", addr)
	// Wrap order: cors -> otel/metrics -> mux
	handler := corsMiddleware(obs.WrapHTTP("footer-api", mux))
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
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
	if err != nil {
		return defaultVal
	}
	return n
}

func corsMiddleware(next http.Handler) http.Handler {
	allowOrigin := readEnvDefault("CORS_ALLOW_ORIGIN", "http://localhost:5173")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
