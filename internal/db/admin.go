package db

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/rescuebot/internal/httputil"
	"github.com/banshee-data/rescuebot/internal/monitoring"
)

// AttachAdminRoutes mounts journal debugging endpoints under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("runs", "Recorded runs, newest first (JSON)", func(w http.ResponseWriter, r *http.Request) {
		runs, err := db.Runs(r.Context(), 50)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, runs)
	})

	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "rescuebot-backup")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				monitoring.Logf("[db] remove backup dir: %v", err)
			}
		}()

		name := fmt.Sprintf("journal-%d.db", time.Now().Unix())
		path := filepath.Join(dir, name)
		if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", path); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, path)
	}))
}
