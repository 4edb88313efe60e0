package middleware

import (
	"io"
	"net/http"

	goTenant "github.com/MrEthical07/goTenant"
)

const maxWebhookBody = 64 << 10

// BillingWebhook returns the endpoint the payment gateway posts events to.
// The body is passed to HandleBillingEvent untouched so the signature still
// matches.
func BillingWebhook(engine *goTenant.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err := engine.HandleBillingEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
