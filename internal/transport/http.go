package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lifevaluable/brewflow/internal/handler"
	"github.com/lifevaluable/brewflow/internal/metrics"
)

// NewRouter assembles the order-service HTTP surface.
func NewRouter(orders *handler.OrderHandler, carts *handler.CartHandler, products *handler.ProductHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/products", products.ListProducts)
	r.Get("/products/{productId}", products.GetProduct)

	r.Get("/cart", carts.GetCart)
	r.Post("/cart/items", carts.AddItem)
	r.Delete("/cart/items/{productId}", carts.RemoveItem)

	r.Post("/orders", orders.CreateOrder)
	r.Get("/orders", orders.GetOrdersHistory)
	r.Get("/orders/{orderId}", orders.GetOrder)

	r.Put("/internal/orders/{orderId}/status", orders.UpdateOrderStatus)

	return r
}
