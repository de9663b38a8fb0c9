package api

import (
	"bytes"
	"html/template"
	"net/http"
	"time"
)

// dashboardTemplate renders the user list. html/template escapes every
// user-supplied value in its context.
var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8" />
    <title>Users</title>
</head>
<body>
    <h1>Users</h1>
    <ul>
    {{- range .Users}}
        <li>{{.Username}} - {{.Email}} - {{.Role}} - {{.CreatedAt.Format "2006-01-02 15:04"}}</li>
    {{- end}}
    </ul>
    <p>{{len .Users}} accounts, generated {{.Generated.Format "2006-01-02 15:04:05 MST"}}</p>
</body>
</html>
`))

// handleDashboard renders an HTML list of accounts for administrators.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to render dashboard")
		return
	}
	for i := range users {
		users[i] = users[i].Public()
	}

	var buf bytes.Buffer
	err = s.dashboard.Execute(&buf, map[string]any{
		"Users":     users,
		"Generated": time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("render dashboard failed", "error", err)
		writeInternalError(w, "failed to render dashboard")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck // Best-effort write to response; connection may be closed
}
