package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"wabridge/internal/app"
	"wabridge/internal/infra/http/handler"
	"wabridge/internal/infra/http/middleware"
	"wabridge/platform/config"
	"wabridge/platform/logger"
)

// SetupRoutes assembles the full HTTP surface: lifecycle, messaging and
// group administration, behind API-key auth.
func SetupRoutes(cfg *config.Config, log *logger.Logger, manager *app.Manager) http.Handler {
	r := chi.NewRouter()

	setupMiddlewares(r, cfg, log)
	setupHealthRoutes(r)

	instances := handler.NewInstanceHandler(manager, log)
	messages := handler.NewMessageHandler(manager, log)
	groups := handler.NewGroupHandler(manager, log)

	setupInstanceRoutes(r, instances)
	setupMessageRoutes(r, messages)
	setupGroupRoutes(r, groups)

	return r
}

func setupMiddlewares(r *chi.Mux, cfg *config.Config, log *logger.Logger) {
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.HTTPLogger(log))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.APIKeyAuth(cfg.APIKey, log))
}

func setupHealthRoutes(r *chi.Mux) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"wabridge"}`))
	})
}

func setupInstanceRoutes(r *chi.Mux, h *handler.InstanceHandler) {
	r.Route("/instance", func(r chi.Router) {
		r.Post("/init", h.Init)
		r.Post("/restore", h.Restore)
		r.Get("/list", h.List)

		r.Route("/{instanceKey}", func(r chi.Router) {
			r.Get("/", h.Info)
			r.Get("/qr", h.QR)
			r.Get("/qrbase64", h.QR)
			r.Delete("/logout", h.Logout)
			r.Delete("/", h.Delete)
		})
	})
}

func setupMessageRoutes(r *chi.Mux, h *handler.MessageHandler) {
	r.Route("/message/{instanceKey}", func(r chi.Router) {
		r.Post("/text", h.SendText)
		r.Post("/media", h.SendMedia)
		r.Post("/buttons", h.SendButtons)
		r.Post("/list", h.SendList)
		r.Post("/location", h.SendLocation)
		r.Post("/contact", h.SendContact)
		r.Post("/presence", h.SetPresence)
		r.Post("/profilepicture", h.UpdateProfilePicture)
		r.Get("/verify", h.Verify)
	})
}

func setupGroupRoutes(r *chi.Mux, h *handler.GroupHandler) {
	r.Route("/group/{instanceKey}", func(r chi.Router) {
		r.Post("/create", h.Create)
		r.Get("/listall", h.ListAll)
		r.Get("/find", h.Find)
		r.Post("/leave", h.Leave)
		r.Get("/invitecode/{groupId}", h.InviteCode)
		r.Post("/participants/add", h.AddParticipants)
		r.Post("/participants/promote", h.PromoteParticipants)
		r.Post("/participants/demote", h.DemoteParticipants)
		r.Post("/participants/update", h.UpdateParticipants)
		r.Post("/settings", h.UpdateSetting)
		r.Post("/subject", h.UpdateSubject)
		r.Post("/description", h.UpdateDescription)
	})
}
