package server

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSMiddleware reflects any request origin and allows credentials, so
// pages served from other origins can call the API with cookies.
func CORSMiddleware(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc: func(string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(next)
}
