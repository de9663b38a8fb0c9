package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
)

func TestUsers_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin@example.com", auth.RoleAdmin)
	env.addUser(t, "manager@example.com", auth.RoleManager)
	env.addUser(t, "user@example.com", auth.RoleUser)

	tests := []struct {
		email string
		want  int
	}{
		{"admin@example.com", http.StatusOK},
		{"manager@example.com", http.StatusForbidden},
		{"user@example.com", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			resp := env.login(t, tt.email)
			w := env.do(t, http.MethodGet, "/api/v1/users/", nil, bearer(resp.AccessToken)...)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusForbidden {
				e := decodeError(t, w)
				if e.Message != "access denied for this role" {
					t.Errorf("message = %q", e.Message)
				}
				return
			}
			var body struct {
				Users []auth.User `json:"users"`
				Count int         `json:"count"`
			}
			decodeBody(t, w, &body)
			if body.Count != 3 {
				t.Errorf("count = %d, want 3", body.Count)
			}
			if strings.Contains(w.Body.String(), "argon2") {
				t.Error("listing leaks password hashes")
			}
		})
	}

	if got := len(env.audit.ofKind(audit.KindUnauthorizedAccess)); got != 2 {
		t.Errorf("unauthorized events = %d, want 2", got)
	}
}

func TestUsers_GetSelfOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.addUser(t, "admin@example.com", auth.RoleAdmin)
	alice := env.addUser(t, "alice@example.com", auth.RoleUser)
	bob := env.addUser(t, "bob@example.com", auth.RoleUser)

	aliceTok := env.login(t, "alice@example.com").AccessToken
	adminTok := env.login(t, "admin@example.com").AccessToken

	tests := []struct {
		name  string
		token string
		id    string
		want  int
	}{
		{"self", aliceTok, alice.ID, http.StatusOK},
		{"other user", aliceTok, bob.ID, http.StatusForbidden},
		{"admin reads other", adminTok, bob.ID, http.StatusOK},
		{"admin reads self", adminTok, admin.ID, http.StatusOK},
		{"admin unknown id", adminTok, "usr-missing", http.StatusNotFound},
		{"user unknown id", aliceTok, "usr-missing", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/users/"+tt.id, nil, bearer(tt.token)...)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK {
				var u auth.User
				decodeBody(t, w, &u)
				if u.ID != tt.id {
					t.Errorf("id = %q, want %q", u.ID, tt.id)
				}
			}
		})
	}
}

func TestUsers_CreateWithRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.addUser(t, "admin@example.com", auth.RoleAdmin)
	tok := env.login(t, "admin@example.com").AccessToken

	w := env.do(t, http.MethodPost, "/api/v1/users/", map[string]any{
		"email": "carol@example.com", "username": "carol", "password": testPassword, "role": "MANAGER",
	}, bearer(tok)...)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var carol auth.User
	decodeBody(t, w, &carol)
	if carol.Role != auth.RoleManager {
		t.Errorf("role = %q, want MANAGER", carol.Role)
	}

	changes := env.audit.ofKind(audit.KindPermissionChange)
	if len(changes) != 1 {
		t.Fatalf("permission changes = %d, want 1", len(changes))
	}
	ev := changes[0]
	if ev.User != admin.Email || ev.Details["target_user"] != carol.ID || ev.Details["new_role"] != "MANAGER" || ev.Details["old_role"] != "USER" {
		t.Errorf("event = %+v", ev)
	}

	w = env.do(t, http.MethodPost, "/api/v1/users/", map[string]any{
		"email": "dave@example.com", "username": "dave", "password": testPassword,
	}, bearer(tok)...)
	if w.Code != http.StatusCreated {
		t.Fatalf("default role: status = %d", w.Code)
	}
	if got := len(env.audit.ofKind(audit.KindPermissionChange)); got != 1 {
		t.Errorf("default role should not emit a permission change, got %d events", got)
	}

	w = env.do(t, http.MethodPost, "/api/v1/users/", map[string]any{
		"email": "erin@example.com", "username": "erin", "password": testPassword, "role": "ROOT",
	}, bearer(tok)...)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown role: status = %d, want 400", w.Code)
	}
}

func TestUsers_RoleChangeVisibleNextRequest(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin@example.com", auth.RoleAdmin)
	alice := env.addUser(t, "alice@example.com", auth.RoleUser)

	adminTok := env.login(t, "admin@example.com").AccessToken
	aliceSession := env.login(t, "alice@example.com").SessionID

	w := env.do(t, http.MethodGet, "/api/v1/users/", nil, "X-Session-Id", aliceSession)
	if w.Code != http.StatusForbidden {
		t.Fatalf("before promotion: status = %d, want 403", w.Code)
	}

	w = env.do(t, http.MethodPatch, "/api/v1/users/"+alice.ID+"/role", map[string]any{"role": "ADMIN"}, bearer(adminTok)...)
	if w.Code != http.StatusOK {
		t.Fatalf("patch role: status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated auth.User
	decodeBody(t, w, &updated)
	if updated.Role != auth.RoleAdmin {
		t.Errorf("role = %q, want ADMIN", updated.Role)
	}

	w = env.do(t, http.MethodGet, "/api/v1/users/", nil, "X-Session-Id", aliceSession)
	if w.Code != http.StatusOK {
		t.Fatalf("after promotion: status = %d, want 200", w.Code)
	}

	changes := env.audit.ofKind(audit.KindPermissionChange)
	if len(changes) != 1 || changes[0].Details["old_role"] != "USER" || changes[0].Details["new_role"] != "ADMIN" {
		t.Errorf("permission changes = %+v", changes)
	}
}

func TestUsers_UpdateRoleErrors(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin@example.com", auth.RoleAdmin)
	alice := env.addUser(t, "alice@example.com", auth.RoleUser)
	tok := env.login(t, "admin@example.com").AccessToken

	tests := []struct {
		name string
		id   string
		body any
		want int
	}{
		{"unknown user", "usr-missing", map[string]any{"role": "ADMIN"}, http.StatusNotFound},
		{"invalid role", alice.ID, map[string]any{"role": "OWNER"}, http.StatusBadRequest},
		{"missing role", alice.ID, map[string]any{}, http.StatusBadRequest},
		{"same role", alice.ID, map[string]any{"role": "USER"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPatch, "/api/v1/users/"+tt.id+"/role", tt.body, bearer(tok)...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if got := len(env.audit.ofKind(audit.KindPermissionChange)); got != 0 {
		t.Errorf("permission changes = %d, want 0", got)
	}
}

func TestUsers_ManagerCannotChangeRoles(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "manager@example.com", auth.RoleManager)
	alice := env.addUser(t, "alice@example.com", auth.RoleUser)
	tok := env.login(t, "manager@example.com").AccessToken

	w := env.do(t, http.MethodPatch, "/api/v1/users/"+alice.ID+"/role", map[string]any{"role": "ADMIN"}, bearer(tok)...)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	u, err := env.users.GetByID(t.Context(), alice.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u.Role != auth.RoleUser {
		t.Errorf("role changed to %q", u.Role)
	}
}

func TestDashboard_EscapesUserData(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin@example.com", auth.RoleAdmin)

	hash, _ := fastHasher.Hash(testPassword)
	if err := env.users.Create(t.Context(), &auth.User{
		Email:        "tom@example.com",
		Username:     `Tom & "Jerry" <b>`,
		PasswordHash: hash,
		Role:         auth.RoleUser,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tok := env.login(t, "admin@example.com").AccessToken
	w := env.do(t, http.MethodGet, "/api/v1/dashboard", nil, bearer(tok)...)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	if strings.Contains(body, "<b>") {
		t.Error("dashboard renders raw markup from user data")
	}
	if !strings.Contains(body, "&lt;b&gt;") || !strings.Contains(body, "Tom &amp;") {
		t.Errorf("escaped username missing from dashboard:\n%s", body)
	}
	if strings.Contains(body, "argon2") {
		t.Error("dashboard leaks password hashes")
	}
}

func TestDashboard_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "user@example.com", auth.RoleUser)
	tok := env.login(t, "user@example.com").AccessToken

	if w := env.do(t, http.MethodGet, "/api/v1/dashboard", nil, bearer(tok)...); w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/dashboard", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", w.Code)
	}
}

func TestAuditHistory(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin@example.com", auth.RoleAdmin)
	tok := env.login(t, "admin@example.com").AccessToken

	now := time.Now().UTC()
	events := []audit.Event{
		audit.LoginAttempt("alice@example.com", "10.0.0.1", false, "INVALID_PASSWORD", nil),
		audit.NewAnomaly(audit.AnomalyInjectionAttempt, "eve@example.com", "10.0.0.2", nil),
		audit.LoginAttempt("alice@example.com", "10.0.0.1", true, "", nil),
	}
	for i, ev := range events {
		ev.ID = "evt-" + string(rune('a'+i))
		ev.Timestamp = now.Add(time.Duration(i) * time.Second)
		if err := env.auditRepo.Write(t.Context(), ev); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit/?event_type=LOGIN_ATTEMPT&limit=10", nil, bearer(tok)...)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var page audit.ListResult
	decodeBody(t, w, &page)
	if page.Total != 2 || len(page.Events) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Events[0].ID != "evt-c" {
		t.Errorf("first event = %q, want newest evt-c", page.Events[0].ID)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit/?severity=CRITICAL", nil, bearer(tok)...)
	decodeBody(t, w, &page)
	if page.Total != 1 || page.Events[0].User != "eve@example.com" {
		t.Errorf("critical page = %+v", page)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit/?since=yesterday", nil, bearer(tok)...)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", w.Code)
	}
}
