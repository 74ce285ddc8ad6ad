package http

import (
	"net/http"
)

type OrderStream interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string)
}

// OrdersSocket subscribes the caller to live updates of their own orders.
func OrdersSocket(stream OrderStream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		stream.Serve(w, r, p.UserID)
	}
}
