package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"waybill/internal/order/controller"
)

func NewRouter(orders *controller.OrderController, queue *controller.QueueController, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", orders.Create)
		r.Get("/{orderId}", orders.Get)
		r.Get("/{orderId}/events", orders.History)
		r.Post("/{orderId}/transition", orders.Transition)
		r.Post("/{orderId}/cancel", orders.Cancel)
		r.Post("/{orderId}/assign", orders.Assign)
		r.Post("/{orderId}/accept", orders.Accept)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/tasks", queue.List)
		r.Post("/drain", queue.Drain)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}
