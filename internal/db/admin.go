package db

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pulse.report/internal/httputil"
)

// AttachAdminRoutes mounts the run browser and a tailsql console under
// /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Pulse DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Recent detection runs (JSON); ?run_id= lists its heartbeats", db.runsHandler())
	return nil
}

func (db *DB) runsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}

		var (
			payload any
			err     error
		)
		if id := r.URL.Query().Get("run_id"); id != "" {
			payload, err = db.Heartbeats(id)
		} else {
			payload, err = db.Runs()
		}
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to query runs: %v", err))
			return
		}
		httputil.WriteJSONOK(w, payload)
	})
}
