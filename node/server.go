// Package node is a minimal hotspot device agent. It keeps the login table
// and sessions in memory and exposes them over the HTTP protocol the
// device.HTTPAdapter speaks, so a plain Linux box can stand in for a
// hotspot router.
package node

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/crypto/bcrypt"

	"go-hotspot/log"
)

type User struct {
	Username    string `json:"username"`
	Password    string `json:"password,omitempty"`
	Profile     string `json:"profile"`
	LimitBytes  int64  `json:"limit_bytes,omitempty"`
	LimitUptime int64  `json:"limit_uptime,omitempty"`
}

type Session struct {
	Username      string `json:"username"`
	Address       string `json:"address,omitempty"`
	BytesIn       int64  `json:"bytes_in"`
	BytesOut      int64  `json:"bytes_out"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	started time.Time
}

type Config struct {
	Username string
	// PasswordHash is the bcrypt hash of the admin password.
	PasswordHash []byte
	Version      string
	// Stats reports system metrics; defaults to SystemStats.
	Stats StatsFunc
}

type Agent struct {
	cfg    Config
	clock  clock.Clock
	logger *log.Logger

	mu       sync.Mutex
	users    map[string]*User
	sessions map[string]*Session
	config   map[string]any
}

func NewAgent(cfg Config, clk clock.Clock, logger *log.Logger) *Agent {
	if cfg.Stats == nil {
		cfg.Stats = SystemStats
	}
	return &Agent{
		cfg:      cfg,
		clock:    clk,
		logger:   logger.Named("node"),
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		config:   make(map[string]any),
	}
}

// Handler returns the agent's HTTP API.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/status", a)
	mux.Handle("/users", a)
	mux.Handle("/users/", a)
	mux.Handle("/sessions", a)
	mux.Handle("/config", a)
	mux.HandleFunc("/login", a.handleLogin)
	return mux
}

func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="hotspot"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/status" && r.Method == http.MethodGet:
		a.handleStatus(w, r)
	case r.URL.Path == "/users" && r.Method == http.MethodGet:
		a.handleListUsers(w, r)
	case r.URL.Path == "/users" && r.Method == http.MethodPost:
		a.handleAddUser(w, r)
	case strings.HasPrefix(r.URL.Path, "/users/") && r.Method == http.MethodDelete:
		a.handleRemoveUser(w, r)
	case r.URL.Path == "/sessions" && r.Method == http.MethodGet:
		a.handleSessions(w, r)
	case r.URL.Path == "/config" && r.Method == http.MethodGet:
		a.handleGetConfig(w, r)
	case r.URL.Path == "/config" && r.Method == http.MethodPut:
		a.handlePutConfig(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *Agent) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != a.cfg.Username {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.cfg.PasswordHash, []byte(pass)) == nil
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := a.cfg.Stats(r.Context())
	if err != nil {
		a.logger.Errorw("reading system stats", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	stats.Version = a.cfg.Version
	writeJSON(w, http.StatusOK, stats)
}

func (a *Agent) handleListUsers(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	out := make([]User, 0, len(a.users))
	for _, u := range a.users {
		c := *u
		c.Password = ""
		out = append(out, c)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	writeJSON(w, http.StatusOK, out)
}

// handleAddUser creates or replaces a login.
func (a *Agent) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || u.Username == "" || u.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	_, existed := a.users[u.Username]
	a.users[u.Username] = &u
	a.mu.Unlock()

	a.logger.Infow("user provisioned", "username", u.Username, "profile", u.Profile, "replaced", existed)
	if existed {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleRemoveUser deletes a login and kicks its session.
func (a *Agent) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/users/")
	a.mu.Lock()
	_, ok := a.users[name]
	delete(a.users, name)
	delete(a.sessions, name)
	a.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a.logger.Infow("user removed", "username", name)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleSessions(w http.ResponseWriter, r *http.Request) {
	now := a.clock.Now()
	a.mu.Lock()
	out := make([]Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		c := *s
		c.UptimeSeconds = int64(now.Sub(s.started) / time.Second)
		out = append(out, c)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	writeJSON(w, http.StatusOK, out)
}

func (a *Agent) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	cfg := make(map[string]any, len(a.config))
	for k, v := range a.config {
		cfg[k] = v
	}
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, cfg)
}

func (a *Agent) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil || len(cfg) == 0 {
		http.Error(w, "configuration must be a non-empty object", http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.config = cfg
	a.mu.Unlock()
	a.logger.Infow("configuration applied", "keys", len(cfg))
	w.WriteHeader(http.StatusOK)
}

// handleLogin is the captive portal side: a customer signs in with a
// voucher code and password and gets a session.
func (a *Agent) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := a.Login(req.Username, req.Password, r.RemoteAddr); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
