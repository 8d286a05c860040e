package server

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"grantdesk/internal/domain"
	"grantdesk/internal/engine"
	"grantdesk/internal/repo"
)

// registerDownload streams the rendered artifact. It is a plain chi route
// because the response is a file, not the JSON envelope.
func registerDownload(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "requests/{id}/report"), func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		artifact, err := e.ArtifactPath(req.Context(), id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) || errors.Is(err, engine.ErrNoArtifact) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "no report for request", nil))
				return
			}
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(artifact)))
		http.ServeFile(w, req, artifact)
	})
}

// registerAdminView renders the request table as HTML with action buttons
// gated by domain.ActionsFor, the same table the mutation endpoints enforce.
func registerAdminView(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "admin"), func(w http.ResponseWriter, req *http.Request) {
		items, err := e.Repo.ListRequests(req.Context(), repo.RequestFilters{Limit: 200})
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, adminHTML(basePath, items))
	})
}

func adminHTML(basePath string, items []domain.Request) string {
	var rows strings.Builder
	for _, r := range items {
		rows.WriteString(adminRow(basePath, r))
	}
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Grantdesk Admin</title>
    <style>
      body { font-family: sans-serif; margin: 2rem; }
      table { border-collapse: collapse; width: 100%%; }
      th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; font-size: 0.9rem; }
      th { background: #f4f4f4; }
      form { display: inline; }
      button { margin-right: 0.25rem; }
    </style>
  </head>
  <body>
    <h1>Requests</h1>
    <table>
      <tr><th>Created</th><th>Client</th><th>Grant</th><th>Status</th><th>Actions</th></tr>
%s    </table>
    <script>
      function del(url) {
        if (!confirm('Delete this request?')) return;
        fetch(url, { method: 'DELETE' }).then(() => location.reload());
      }
    </script>
  </body>
</html>`, rows.String())
}

func adminRow(basePath string, r domain.Request) string {
	actions := domain.ActionsFor(r)
	base := path.Join(basePath, "requests", r.ID)
	var b strings.Builder
	if actions.Run {
		fmt.Fprintf(&b, `<form method="post" action="%s/run"><button>Run</button></form>`, base)
	}
	if actions.Deliver {
		fmt.Fprintf(&b, `<form method="post" action="%s/delivered"><button>Mark delivered</button></form>`, base)
	}
	if actions.Archive {
		fmt.Fprintf(&b, `<form method="post" action="%s/archive"><button>Archive</button></form>`, base)
	}
	if actions.Download {
		fmt.Fprintf(&b, `<a href="%s/report">Download</a> `, base)
	}
	if actions.Delete {
		fmt.Fprintf(&b, `<button onclick="del('%s')">Delete</button>`, base)
	}
	return fmt.Sprintf("      <tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
		html.EscapeString(r.CreatedAt),
		html.EscapeString(r.ClientName),
		html.EscapeString(r.GrantName),
		html.EscapeString(r.Status),
		b.String())
}
