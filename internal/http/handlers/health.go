package handlers

import (
	"net/http"
	"time"
)

const apiVersion = "1.0.0"

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"message":   "Storybook illustration service is running",
		"timestamp": a.now().UTC().Format(time.RFC3339),
		"version":   apiVersion,
	})
}
