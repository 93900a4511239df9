// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/auth"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/cache"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/database"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/handlers"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/middleware"
)

func main() {
	auth.Init()
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, result retry queue and counters disabled: %v", err)
	}

	srv := handlers.NewServer(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore queue entries that survived a restart, then run the pairing
	// sweep loop.
	if err := srv.Engine.Rehydrate(ctx); err != nil {
		logger.Warnf("failed to rehydrate pairing queue: %v", err)
	}
	go srv.Engine.Run(ctx)

	go retryPendingResults(ctx, logger)

	mux := http.NewServeMux()

	// user endpoints
	mux.HandleFunc("/user/create", handlers.CreateUserHandler)
	mux.HandleFunc("/user/login", handlers.LoginHandler)

	// pairing endpoints
	mux.Handle("/pairing/join", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.PairingJoinHandler)))
	mux.Handle("/pairing/leave", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.PairingLeaveHandler)))
	mux.Handle("/pairing/status", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.PairingStatusHandler)))

	// game websocket
	mux.Handle("/ws", middleware.LogMiddleware(logger)(srv.GameWSHandler()))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// retryPendingResults drains match results whose finalization failed while the
// database was unreachable. Entries that still fail go back on the queue.
func retryPendingResults(ctx context.Context, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			rec, err := cache.DequeuePendingResult(ctx)
			if err != nil {
				logger.Debugf("pending result dequeue failed: %v", err)
				break
			}
			if rec == nil {
				break
			}
			if _, err := database.FinalizeMatchAndRatings(ctx, rec.MatchID, rec.WinnerID, rec.LoserID, rec.Abandoned); err != nil {
				logger.Warnf("retry of match %s failed, requeueing: %v", rec.MatchID, err)
				if qerr := cache.EnqueuePendingResult(ctx, *rec); qerr != nil {
					logger.Errorf("failed to requeue match %s: %v", rec.MatchID, qerr)
				}
				break
			}
			logger.Infof("recovered deferred result for match %s", rec.MatchID)
		}
	}
}
