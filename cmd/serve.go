package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/review"
	"github.com/troubadour-labs/attribution-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		weights, err := loadWeights()
		if err != nil {
			return err
		}
		queue := review.NewQueue(review.WithWeights(weights.Review))

		router := newRouter(st, queue, cfg.Review.Limit)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(st store.Repository, queue *review.Queue, defaultLimit int) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/review", func(w http.ResponseWriter, r *http.Request) {
			limit := defaultLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
					return
				}
				limit = n
			}

			records, err := st.FindNeedsReview(r.Context(), limit)
			if err != nil {
				zap.L().Error("review queue query failed", zap.Error(err))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, queue.NextForReview(records, limit))
		})

		r.Get("/attributions/{id}", func(w http.ResponseWriter, r *http.Request) {
			record, err := st.FindByID(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
					return
				}
				zap.L().Error("attribution lookup failed", zap.Error(err))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, record)
		})

		r.Get("/works/{id}/attributions", func(w http.ResponseWriter, r *http.Request) {
			records, err := st.FindByWorkEntityID(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				zap.L().Error("work attribution lookup failed", zap.Error(err))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, records)
		})

		r.Get("/entities/{id}", func(w http.ResponseWriter, r *http.Request) {
			entity, err := st.FindEntity(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
					return
				}
				zap.L().Error("entity lookup failed", zap.Error(err))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, entity)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
