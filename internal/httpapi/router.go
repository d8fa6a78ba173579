package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter 注册所有路由，并套上访问日志与 panic 恢复
// accessLog 为 nil 时不记录访问日志
func NewRouter(h *LoadHandler, notifications http.Handler, accessLog io.Writer, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/load-settings", h.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/load-settings", h.PatchSettings).Methods(http.MethodPatch)
	api.HandleFunc("/load-settings/active-source", h.SetActiveSource).Methods(http.MethodPost)
	api.HandleFunc("/load-settings/loads", h.AddLoad).Methods(http.MethodPost)
	api.HandleFunc("/load-settings/loads/{id}", h.RemoveLoad).Methods(http.MethodDelete)
	api.HandleFunc("/save-power", h.SavePower).Methods(http.MethodPost)
	api.HandleFunc("/readings", h.GetReadings).Methods(http.MethodGet)
	api.HandleFunc("/controller", h.GetController).Methods(http.MethodGet)
	api.HandleFunc("/shed-events", h.ListShedEvents).Methods(http.MethodGet)
	api.HandleFunc("/devices/{roomId}/{deviceId}/commands", h.ListDeviceCommands).Methods(http.MethodGet)

	if notifications != nil {
		r.Handle("/ws/notifications", notifications).Methods(http.MethodGet)
	}

	var handler http.Handler = r
	if accessLog != nil {
		handler = handlers.CombinedLoggingHandler(accessLog, handler)
	}
	recoveryLog := zap.NewStdLog(logger.Named("http"))
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLog))(handler)
}
