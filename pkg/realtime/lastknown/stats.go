package lastknown

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
)

// Pinger reports whether a dependency is reachable
type Pinger func(ctx context.Context) error

func StartStatsServer(listen string, connection rmq.Connection, checks map[string]Pinger) {
	mux := http.NewServeMux()
	mux.Handle("/last-known-stats/overview", NewStatsHandler(connection))
	mux.Handle("/health", NewHealthHandler(checks))

	log.Info().Msgf("Stats server listening on http://%s/last-known-stats/overview", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		log.Error().Err(err).Msg("Stats server stopped")
	}
}

type StatsServerHandler struct {
	connection rmq.Connection
}

func NewStatsHandler(connection rmq.Connection) *StatsServerHandler {
	return &StatsServerHandler{connection: connection}
}

func (handler *StatsServerHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	layout := request.FormValue("layout")
	refresh := request.FormValue("refresh")

	queues, err := handler.connection.GetOpenQueues()
	if err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)
		return
	}

	stats, err := handler.connection.CollectStats(queues)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)
		return
	}

	fmt.Fprint(writer, stats.GetHtml(layout, refresh))
}

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (handler *HealthHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), 5*time.Second)
	defer cancel()

	for name, check := range handler.checks {
		if err := check(ctx); err != nil {
			writer.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(writer, "%s: %s", name, err)

			return
		}
	}

	writer.WriteHeader(http.StatusOK)
	fmt.Fprint(writer, "OK")
}
