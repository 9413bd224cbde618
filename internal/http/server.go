package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(h *Handler, jwtSecret []byte, drivers DriverResolver, log *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(jwtSecret, drivers))
			r.Use(RequireOwner)

			r.Post("/drivers", h.CreateDriver)
			r.Get("/drivers", h.ListDrivers)
			r.Patch("/drivers/{driverId}", h.UpdateDriver)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{orderId}", h.GetOrder)
		})
	})

	r.Route("/delivery", func(r chi.Router) {
		r.Get("/{orderId}", h.TrackDelivery)
		r.Get("/{orderId}/live", h.LiveDelivery)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(jwtSecret, drivers))

			r.Post("/{orderId}", h.AssignDriver)
			r.Patch("/{orderId}/status", h.UpdateDeliveryStatus)
		})
	})

	return &Server{Router: r}
}
