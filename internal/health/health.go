package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is the slice of pgxpool.Pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Status struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Database bool   `json:"database,omitempty"`
}

// HTTPHandler reports process health. The delivery ledger is the only hard
// dependency, so a failed ping is the only unhealthy condition.
func HTTPHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
