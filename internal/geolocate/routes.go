package geolocate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/HerbHall/geoscout/internal/plugin"
	"github.com/HerbHall/geoscout/internal/server"
	"github.com/HerbHall/geoscout/internal/services"
)

// eventBuffer is how many events a slow websocket client may lag behind
// before further events are dropped for it.
const eventBuffer = 32

func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/events", Handler: m.handleEvents},
		{Method: "GET", Path: "/jobs", Handler: m.handleListJobs},
		{Method: "GET", Path: "/jobs/{id}", Handler: m.handleGetJob},
	}
}

// handleEvents streams geolocate bus events to a websocket client as JSON.
func (m *Module) handleEvents(w http.ResponseWriter, r *http.Request) {
	if m.bus == nil {
		server.NotFound(w, "event stream is not available", r.URL.Path)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: m.cfg.AllowOrigins,
	})
	if err != nil {
		m.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events := make(chan plugin.Event, eventBuffer)
	unsubscribe := m.bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		if !strings.HasPrefix(e.Topic, Name+".") {
			return
		}
		select {
		case events <- e:
		default:
			m.logger.Warn("dropping event for slow websocket client", zap.String("topic", e.Topic))
		}
	})
	defer unsubscribe()

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-events:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, e)
			cancel()
			if err != nil {
				m.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (m *Module) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if m.repo == nil {
		server.NotFound(w, "job records are not enabled", r.URL.Path)
		return
	}
	opts := services.ListOptions{SortOrder: r.URL.Query().Get("order")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			server.BadRequest(w, "limit must be an integer", r.URL.Path)
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			server.BadRequest(w, "offset must be an integer", r.URL.Path)
			return
		}
		opts.Offset = n
	}

	result, err := m.repo.List(r.Context(), opts)
	if err != nil {
		m.logger.Error("list jobs", zap.Error(err))
		server.InternalError(w, "could not list jobs", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (m *Module) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if m.repo == nil {
		server.NotFound(w, "job records are not enabled", r.URL.Path)
		return
	}
	job, err := m.repo.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, services.ErrNotFound) {
		server.NotFound(w, "job not found", r.URL.Path)
		return
	}
	if err != nil {
		m.logger.Error("get job", zap.Error(err))
		server.InternalError(w, "could not load job", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
