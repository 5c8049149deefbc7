package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type OrdersHandler struct {
	Service *orders.Service
	Timeout time.Duration
}

type createOrderReq struct {
	CustomerID     string  `json:"customer_id"`
	PartsList      []int64 `json:"parts_list"`
	IdempotencyKey string  `json:"idempotency_key"`
}

type updateOrderReq struct {
	CustomerID string    `json:"customer_id"`
	PartsList  []int64   `json:"parts_list"`
	Timestamp  time.Time `json:"timestamp"`
}

type statusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/order", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/customers/{customer_id}", h.listByCustomer)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
		r.Put("/{id}/status", h.updateStatus)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	o, created, err := h.Service.CreateOrder(ctx, req.CustomerID, req.PartsList, key)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeData(w, code, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	list, err := h.Service.ListOrders(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (h *OrdersHandler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	list, err := h.Service.ListOrdersByCustomer(ctx, chi.URLParam(r, "customer_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	o, err := h.Service.UpdateOrder(ctx, chi.URLParam(r, "id"), orders.Update{
		CustomerID: req.CustomerID,
		PartsList:  req.PartsList,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	o, err := h.Service.Transition(ctx, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	if err := h.Service.DeleteOrder(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "order deleted"})
}
