// Package api serves the demo HTTP endpoints: profile reads that must see
// the caller's own writes, profile writes, and a catalog that tolerates
// replication lag.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rywrouter/pkg/replica"
	"rywrouter/pkg/router"
	"rywrouter/pkg/validation"
)

// RoleHeader reports which replica role served a read.
const RoleHeader = "X-Replica-Role"

// CheckTimeout bounds each readiness check.
const CheckTimeout = 2 * time.Second

// Querier is the subset of *pgxpool.Conn the handlers use.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
}

// PoolProvider adapts a pgxpool connection provider to Querier.
func PoolProvider(p router.Provider[*pgxpool.Conn]) router.Provider[Querier] {
	return poolProvider{p: p}
}

type poolProvider struct{ p router.Provider[*pgxpool.Conn] }

func (pp poolProvider) Acquire(ctx context.Context, role replica.Role) (Querier, error) {
	c, err := pp.p.Acquire(ctx, role)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// WriteRecorder records that an identity just wrote.
type WriteRecorder interface {
	RecordWrite(ctx context.Context, id replica.Identity)
}

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler serves the API.
type Handler struct {
	db     *router.Dispatcher[Querier]
	writes WriteRecorder
	checks map[string]Pinger
	logger *slog.Logger

	checkTimeout time.Duration
}

// NewHandler builds the API handler. checks are reported by /healthz.
func NewHandler(db *router.Dispatcher[Querier], writes WriteRecorder, checks map[string]Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, writes: writes, checks: checks, logger: logger, checkTimeout: CheckTimeout}
}

// Routes returns the mux with identity middleware applied to /api.
func (h *Handler) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/me", h.getMe)
	api.HandleFunc("POST /api/me/profile", h.updateProfile)
	api.HandleFunc("GET /api/products", h.listProducts)

	mux := http.NewServeMux()
	mux.Handle("/api/", DemoIdentity(api))
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

// UserProfile is the profile representation for reads and writes.
type UserProfile struct {
	Email     string  `json:"email" validate:"required,email,max=320"`
	Name      string  `json:"name" validate:"required,max=200"`
	AvatarURL *string `json:"avatarUrl" validate:"omitempty,url"`
}

// Product is a catalog entry.
type Product struct {
	ID    int32   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

const (
	selectProfileSQL = `SELECT email, name, avatar_url FROM users WHERE id = $1`

	upsertProfileSQL = `
INSERT INTO users (id, email, name, avatar_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
    name = EXCLUDED.name,
    avatar_url = EXCLUDED.avatar_url,
    updated_at = now()`

	selectProductsSQL = `SELECT id, name, price FROM products ORDER BY name`
)

func (h *Handler) getMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)
	if !id.Known() {
		writeError(w, http.StatusUnauthorized, "no user id available")
		return
	}

	conn, role, err := h.db.ForRead(ctx, id, true)
	if err != nil {
		h.unavailable(w, "acquire read connection", err)
		return
	}
	defer conn.Release()
	w.Header().Set(RoleHeader, role.String())

	var p UserProfile
	err = conn.QueryRow(ctx, selectProfileSQL, string(id)).Scan(&p.Email, &p.Name, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		h.internal(w, "load profile", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)
	if !id.Known() {
		writeError(w, http.StatusUnauthorized, "no user id available")
		return
	}

	var p UserProfile
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.For("json").Struct(p); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "validation failed",
			"errors":  validation.Errors(err, ""),
		})
		return
	}

	conn, err := h.db.ForWrite(ctx)
	if err != nil {
		h.unavailable(w, "acquire write connection", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, upsertProfileSQL, string(id), p.Email, p.Name, p.AvatarURL); err != nil {
		h.internal(w, "save profile", err)
		return
	}

	// Only after the leader has committed.
	h.writes.RecordWrite(ctx, id)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Profile saved."})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, role, err := h.db.ForRead(ctx, IdentityFrom(ctx), false)
	if err != nil {
		h.unavailable(w, "acquire read connection", err)
		return
	}
	defer conn.Release()
	w.Header().Set(RoleHeader, role.String())

	rows, err := conn.Query(ctx, selectProductsSQL)
	if err != nil {
		h.internal(w, "query products", err)
		return
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			h.internal(w, "scan product", err)
			return
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		h.internal(w, "read products", err)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, report)
}

func (h *Handler) unavailable(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, context.Canceled) {
		// Client went away; nobody reads the response.
		return
	}
	h.logger.Error(msg, "error", err)
	writeError(w, http.StatusServiceUnavailable, "database unavailable")
}

func (h *Handler) internal(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
