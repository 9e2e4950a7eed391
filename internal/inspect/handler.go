// Package inspect serves a read-only HTTP view of the mirrored cache.
package inspect

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ex-mirror/internal/router"
	"ex-mirror/internal/store"
	"ex-mirror/pkg/mirror"
)

// Status reports the router lifecycle.
type Status interface {
	State() router.State
	Ready() <-chan struct{}
}

// Cache is the query surface plus live entry counts.
type Cache interface {
	mirror.Cache
	Stats() store.Stats
}

type handler struct {
	status Status
	cache  Cache
	logger *slog.Logger
}

// Option mutates handler construction.
type Option func(*handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type stateResponse struct {
	State string `json:"state"`
	Ready bool   `json:"ready"`
}

type statsResponse struct {
	Users      int `json:"users"`
	Members    int `json:"members"`
	Servers    int `json:"servers"`
	Channels   int `json:"channels"`
	Roles      int `json:"roles"`
	Messages   int `json:"messages"`
	Emojis     int `json:"emojis"`
	Tombstones int `json:"tombstones"`
}

type serverSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OwnerID  string `json:"owner"`
	Channels int    `json:"channels"`
	Members  int    `json:"members"`
}

type serverDetail struct {
	Server   mirror.Server    `json:"server"`
	Channels []mirror.Channel `json:"channels"`
	Roles    []mirror.Role    `json:"roles"`
	Members  int              `json:"members"`
}

type userDetail struct {
	User    mirror.User `json:"user"`
	Self    bool        `json:"self"`
	Servers []string    `json:"servers"`
}

type messageDetail struct {
	Message mirror.Message `json:"message"`
	Deleted bool           `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler builds the inspection routes.
func NewHandler(status Status, cache Cache, options ...Option) http.Handler {
	h := &handler{
		status: status,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	r.Get("/stats", h.stats)
	r.Route("/servers", func(r chi.Router) {
		r.Get("/", h.listServers)
		r.Get("/{serverID}", h.getServer)
	})
	r.Get("/users/{userID}", h.getUser)
	r.Get("/channels/{channelID}/messages/{messageID}", h.getMessage)

	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		wrapped := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(wrapped, request)
		h.logger.DebugContext(request.Context(), "inspect request",
			"method", request.Method,
			"path", request.URL.Path,
			"status", wrapped.Status(),
			"request_id", middleware.GetReqID(request.Context()),
			"elapsed", time.Since(started),
		)
	})
}

func (h *handler) isReady() bool {
	select {
	case <-h.status.Ready():
		return true
	default:
		return false
	}
}

func (h *handler) health(writer http.ResponseWriter, _ *http.Request) {
	state := h.status.State()
	status := http.StatusOK
	if state == router.StateError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(writer, status, stateResponse{State: state.String(), Ready: h.isReady()})
}

func (h *handler) ready(writer http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	if !h.isReady() || h.status.State() == router.StateError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(writer, status, stateResponse{State: h.status.State().String(), Ready: h.isReady()})
}

func (h *handler) stats(writer http.ResponseWriter, _ *http.Request) {
	stats := h.cache.Stats()
	writeJSON(writer, http.StatusOK, statsResponse{
		Users:      stats.Users,
		Members:    stats.Members,
		Servers:    stats.Servers,
		Channels:   stats.Channels,
		Roles:      stats.Roles,
		Messages:   stats.Messages,
		Emojis:     stats.Emojis,
		Tombstones: stats.Tombstones,
	})
}

func (h *handler) listServers(writer http.ResponseWriter, _ *http.Request) {
	servers := h.cache.Servers()
	summaries := make([]serverSummary, 0, len(servers))
	for _, server := range servers {
		summaries = append(summaries, serverSummary{
			ID:       server.ID,
			Name:     server.Name,
			OwnerID:  server.OwnerID,
			Channels: len(server.ChannelIDs),
			Members:  len(h.cache.Members(server.ID)),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	writeJSON(writer, http.StatusOK, summaries)
}

func (h *handler) getServer(writer http.ResponseWriter, request *http.Request) {
	serverID := chi.URLParam(request, "serverID")
	server, found := h.cache.Server(serverID)
	if !found {
		writeJSON(writer, http.StatusNotFound, errorResponse{Error: "server not found"})
		return
	}

	writeJSON(writer, http.StatusOK, serverDetail{
		Server:   server,
		Channels: h.cache.Channels(serverID),
		Roles:    h.cache.Roles(serverID),
		Members:  len(h.cache.Members(serverID)),
	})
}

func (h *handler) getUser(writer http.ResponseWriter, request *http.Request) {
	userID := chi.URLParam(request, "userID")
	user, found := h.cache.User(userID)
	if !found {
		writeJSON(writer, http.StatusNotFound, errorResponse{Error: "user not found"})
		return
	}

	servers := h.cache.MemberServers(userID)
	serverIDs := make([]string, 0, len(servers))
	for _, server := range servers {
		serverIDs = append(serverIDs, server.ID)
	}
	sort.Strings(serverIDs)
	self, _ := h.cache.Self()

	writeJSON(writer, http.StatusOK, userDetail{
		User:    user,
		Self:    self.ID == userID,
		Servers: serverIDs,
	})
}

// getMessage falls back to the tombstone so recently deleted messages stay
// inspectable until they expire.
func (h *handler) getMessage(writer http.ResponseWriter, request *http.Request) {
	channelID := chi.URLParam(request, "channelID")
	messageID := chi.URLParam(request, "messageID")

	if message, found := h.cache.Message(channelID, messageID); found {
		writeJSON(writer, http.StatusOK, messageDetail{Message: message})
		return
	}
	if message, found := h.cache.DeletedMessage(channelID, messageID); found {
		writeJSON(writer, http.StatusOK, messageDetail{Message: message, Deleted: true})
		return
	}

	writeJSON(writer, http.StatusNotFound, errorResponse{Error: "message not found"})
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
