package api

import (
	"fmt"
	"net/http"
)

// handleClipEvents streams the store version as server-sent events: once on
// connect, then after every change. Intermediate versions may be skipped.
func handleClipEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)

		updates, unsubscribe := deps.Clips.Subscribe()
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		last := deps.Clips.Version()
		if err := writeVersionEvent(w, rc, last); err != nil {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case v := <-updates:
				if v <= last {
					continue
				}
				last = v
				if err := writeVersionEvent(w, rc, v); err != nil {
					deps.Logger.Debug("clip event stream closed", "error", err)
					return
				}
			}
		}
	}
}

func writeVersionEvent(w http.ResponseWriter, rc *http.ResponseController, v uint64) error {
	if _, err := fmt.Fprintf(w, "event: version\ndata: {\"version\":%d}\n\n", v); err != nil {
		return err
	}
	return rc.Flush()
}
