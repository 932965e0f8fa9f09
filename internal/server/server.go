package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewHTTPServer builds the router and server for `runtrail serve`.
func NewHTTPServer(addr string, h *Handler) *http.Server {
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
