package server

import (
	"net/http"

	"go.uber.org/zap"
)

func SetupRoutes(deviationService *DeviationService, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", deviationService.ShowForm)
	mux.HandleFunc("POST /{$}", deviationService.SubmitDeviation)
	mux.HandleFunc("GET /login", deviationService.ShowLogin)
	mux.HandleFunc("POST /login", deviationService.Login)
	mux.HandleFunc("GET /logout", deviationService.Logout)
	mux.HandleFunc("GET /dashboard", deviationService.Dashboard)
	mux.HandleFunc("GET /download", deviationService.Download)
	mux.HandleFunc("GET /healthz", deviationService.Health)

	return withRequestLogging(logger, mux)
}
