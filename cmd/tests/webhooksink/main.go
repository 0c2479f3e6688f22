// webhooksink is a local receiver for facilitator webhooks. It verifies the
// HMAC signature on each delivery and prints the decoded payload, which makes
// it easy to watch verification and settlement events while testing.
package main

import (
	"crypto/hmac"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/x402svm/facilitator/internal/webhooks"
)

func main() {
	port := flag.Int("port", 9091, "port to listen on")
	secret := flag.String("secret", "", "shared webhook secret (empty skips signature checks)")
	flag.Parse()

	http.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}

		if *secret != "" {
			got := r.Header.Get("X-Webhook-Signature")
			want := webhooks.Sign(body, *secret)
			if !hmac.Equal([]byte(got), []byte(want)) {
				log.Printf("REJECTED delivery: bad signature (got %q)", got)
				http.Error(w, "bad signature", http.StatusUnauthorized)
				return
			}
		}

		var payload webhooks.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Printf("REJECTED delivery: bad payload: %v", err)
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		log.Printf("event=%s payer=%s network=%s amount=%s tx=%s error=%q",
			payload.Event,
			payload.Data.Payer,
			payload.Data.Network,
			payload.Data.Amount,
			payload.Data.TransactionSignature,
			payload.Data.ErrorReason,
		)
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("webhook sink listening on %s/webhook", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
