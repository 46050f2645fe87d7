package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vitaqr/go-eds/internal/notify"
	"github.com/vitaqr/go-eds/pkg/circuitbreaker"
)

// ProviderHealthHandler reports which notification transports are usable
// and the state of their circuit breakers. Operators watch this during
// carrier outages to confirm fallback routing.
func ProviderHealthHandler(dispatcher *notify.Dispatcher, breakers *circuitbreaker.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"providers": dispatcher.Health(),
		}
		if breakers != nil {
			body["breakers"] = breakers.GetHealthStatus()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(body)
	}
}
