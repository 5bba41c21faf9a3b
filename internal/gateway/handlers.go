// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/session"
	"grimm.is/campusgate/internal/store"
)

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ClientIP  string    `json:"client_ip"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin authenticates a portal client and opens its network access.
// The allow rule must be installed before the response goes out: a 200 means
// the client can actually reach the uplink.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.UserID == "" || req.Password == "" {
		s.respondError(w, errors.New(errors.KindValidation, "user_id and password are required"))
		return
	}

	ip := clientIP(r)
	sess, err := s.sessions.Login(req.UserID, req.Password, ip)
	if err != nil {
		s.metrics.LoginsTotal.WithLabelValues(loginOutcome(err)).Inc()
		s.respondError(w, err)
		return
	}

	if err := s.filter.AllowClient(r.Context(), sess.ClientIP); err != nil {
		// Roll the session back; a binding without an allow rule would
		// let the next sync silently open access.
		if lerr := s.sessions.Logout(req.UserID); lerr != nil {
			s.logger.Error("session rollback failed", "user", req.UserID, "error", lerr)
		}
		s.metrics.LoginsTotal.WithLabelValues("error").Inc()
		s.respondError(w, err)
		return
	}

	user, err := s.dir.GetUser(req.UserID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	now := s.clock.Now()
	token, err := s.issueToken(user.UserID, user.Role, now)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.updateSessionGauge()
	s.respondJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		UserID:    user.UserID,
		Role:      string(user.Role),
		ClientIP:  sess.ClientIP,
		ExpiresAt: now.Add(s.tokenTTL),
	})
}

func loginOutcome(err error) string {
	switch errors.GetKind(err) {
	case errors.KindNotAuthenticated:
		return "denied"
	case errors.KindBanned:
		return "banned"
	}
	return "error"
}

// handleLogout closes the caller's session and removes its allow rule. Deny
// goes first so no traffic lands on a half-closed session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := claimedUser(r)

	sessions, err := s.sessions.ActiveSessions()
	if err != nil {
		s.respondError(w, err)
		return
	}
	for _, sess := range sessions {
		if sess.UserID != userID {
			continue
		}
		if err := s.filter.DenyClient(r.Context(), sess.ClientIP); err != nil {
			s.respondError(w, err)
			return
		}
	}

	if err := s.sessions.Logout(userID); err != nil {
		s.respondError(w, err)
		return
	}
	s.updateSessionGauge()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) updateSessionGauge() {
	sessions, err := s.sessions.ActiveSessions()
	if err != nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(len(sessions)))
}

// --- admin: filter policy ---

type filterStatus struct {
	Policy   *policyView         `json:"policy"`
	Resolved map[string][]string `json:"resolved"`
	Allowed  []string            `json:"allowed_clients"`
}

type policyView struct {
	ManualBlocks []string            `json:"manual_blocks"`
	Categories   map[string]category `json:"categories"`
	Blocked      []string            `json:"blocked_hostnames"`
}

type category struct {
	Active bool     `json:"active"`
	Sites  []string `json:"sites"`
}

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	cfg := s.policy.Snapshot()
	view := &policyView{
		ManualBlocks: cfg.ManualBlocks,
		Categories:   make(map[string]category, len(cfg.Categories)),
		Blocked:      cfg.BlockedHostnames(),
	}
	for name, rule := range cfg.Categories {
		view.Categories[name] = category{Active: rule.Active, Sites: rule.Sites}
	}
	s.respondJSON(w, http.StatusOK, filterStatus{
		Policy:   view,
		Resolved: s.filter.BlockedHostIPs(),
		Allowed:  s.filter.AllowedClients(),
	})
}

type siteRequest struct {
	Hostname string `json:"hostname"`
}

func (s *Server) handleAddSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Hostname == "" {
		s.respondError(w, errors.New(errors.KindValidation, "hostname is required"))
		return
	}
	if err := s.policy.AddManualBlock(req.Hostname); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.filter.SyncPolicy(r.Context(), s.policy.Snapshot()); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"blocked_hostnames": s.policy.Snapshot().BlockedHostnames(),
	})
}

func (s *Server) handleRemoveSite(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]
	if err := s.policy.RemoveManualBlock(hostname); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.filter.SyncPolicy(r.Context(), s.policy.Snapshot()); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"blocked_hostnames": s.policy.Snapshot().BlockedHostnames(),
	})
}

type categoryRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	if err := s.policy.SetCategoryActive(name, req.Active); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.filter.SyncPolicy(r.Context(), s.policy.Snapshot()); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"category": name,
		"active":   req.Active,
	})
}

// --- admin: clients ---

type clientView struct {
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	Tier       string     `json:"tier"`
	Online     bool       `json:"online"`
	ClientIP   string     `json:"client_ip,omitempty"`
	DeviceName string     `json:"device_name,omitempty"`
	Ban        *store.Ban `json:"ban,omitempty"`
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	users, err := s.dir.ListUsers()
	if err != nil {
		s.respondError(w, err)
		return
	}
	sessions, err := s.sessions.ActiveSessions()
	if err != nil {
		s.respondError(w, err)
		return
	}
	byUser := make(map[string]store.Session, len(sessions))
	for _, sess := range sessions {
		byUser[sess.UserID] = sess
	}
	devices, err := s.dir.DeviceNames()
	if err != nil {
		s.respondError(w, err)
		return
	}

	now := s.clock.Now()
	views := make([]clientView, 0, len(users))
	for _, u := range users {
		v := clientView{UserID: u.UserID, Role: string(u.Role), Tier: u.Tier}
		if sess, ok := byUser[u.UserID]; ok {
			v.Online = true
			v.ClientIP = sess.ClientIP
			v.DeviceName = devices[sess.ClientIP]
		}
		if ban, err := s.dir.GetBan(u.UserID); err == nil && ban.Active(now) {
			v.Ban = ban
		}
		views = append(views, v)
	}
	s.respondJSON(w, http.StatusOK, views)
}

type createClientRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Tier     string `json:"tier"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.UserID == "" {
		s.respondError(w, errors.New(errors.KindValidation, "user_id is required"))
		return
	}
	hash, err := session.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, err)
		return
	}
	role := store.Role(req.Role)
	if role == "" {
		role = store.RoleStudent
	}
	if role != store.RoleStudent && role != store.RoleAdmin {
		s.respondError(w, errors.Errorf(errors.KindValidation, "unknown role %q", req.Role))
		return
	}
	tier := req.Tier
	if tier == "" {
		tier = "standard"
	}
	user := store.User{
		UserID:    req.UserID,
		PwHash:    hash,
		Role:      role,
		Tier:      tier,
		CreatedAt: s.clock.Now(),
	}
	if err := s.dir.CreateUser(user); err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("user created", "user", user.UserID, "role", string(role), "by", claimedUser(r))
	s.respondJSON(w, http.StatusCreated, clientView{
		UserID: user.UserID, Role: string(user.Role), Tier: user.Tier,
	})
}

type updateClientRequest struct {
	Tier    *string `json:"tier,omitempty"`
	Blocked *bool   `json:"blocked,omitempty"`
}

// handleUpdateClient changes a user's tier and/or their blocked state.
// blocked=true is a permanent admin ban: the active session's IP is denied
// first, then the ban record closes the session. blocked=false lifts the
// ban without reopening access; the user logs in again.
func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	var req updateClientRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	if req.Tier != nil {
		if err := s.dir.UpdateUserTier(userID, *req.Tier); err != nil {
			s.respondError(w, err)
			return
		}
	}
	if req.Blocked != nil {
		if *req.Blocked {
			if err := s.blockClient(r, userID); err != nil {
				s.respondError(w, err)
				return
			}
		} else {
			if err := s.dir.LiftBan(userID); err != nil {
				s.respondError(w, err)
				return
			}
			s.logger.Info("ban lifted", "user", userID, "by", claimedUser(r))
		}
	}

	user, err := s.dir.GetUser(userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, clientView{
		UserID: user.UserID, Role: string(user.Role), Tier: user.Tier,
	})
}

func (s *Server) blockClient(r *http.Request, userID string) error {
	if _, err := s.dir.GetUser(userID); err != nil {
		return err
	}
	sessions, err := s.sessions.ActiveSessions()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.UserID != userID {
			continue
		}
		if err := s.filter.DenyClient(r.Context(), sess.ClientIP); err != nil {
			return err
		}
	}
	if err := s.sessions.InsertBan(store.Ban{
		UserID:     userID,
		Kind:       store.BanPermanent,
		Confidence: 1.0,
		Reason:     "Blocked by administrator",
		BlockedAt:  s.clock.Now(),
		Status:     store.BanBlocked,
	}); err != nil {
		return err
	}
	s.logger.Warn("user blocked", "user", userID, "by", claimedUser(r))
	return nil
}

// --- admin: anomalies and stats ---

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, errors.Errorf(errors.KindValidation, "bad limit %q", raw))
			return
		}
		limit = n
	}

	var (
		records []store.Anomaly
		err     error
	)
	if user := r.URL.Query().Get("user"); user != "" {
		records, err = s.dir.AnomaliesByUser(user, limit)
	} else {
		records, err = s.dir.RecentAnomalies(s.clock.Now().Add(-24*time.Hour), limit)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.dir.ListUsers()
	if err != nil {
		s.respondError(w, err)
		return
	}
	sessions, err := s.sessions.ActiveSessions()
	if err != nil {
		s.respondError(w, err)
		return
	}
	banned, err := s.dir.ActiveBannedUsers(s.clock.Now())
	if err != nil {
		s.respondError(w, err)
		return
	}
	detections, err := s.dir.DetectionCount()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"users":      len(users),
		"online":     len(sessions),
		"banned":     len(banned),
		"detections": detections,
	})
}
