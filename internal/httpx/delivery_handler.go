package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/delivery"
	"github.com/go-chi/chi/v5"
)

type DeliveryHandler struct {
	Service *delivery.Service
	Timeout time.Duration
}

type createDeliveryReq struct {
	CustomerAddress string `json:"customerAddress"`
	CustomerEmail   string `json:"customerEmail"`
}

func (h *DeliveryHandler) Register(r chi.Router) {
	r.Route("/delivery", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/order/{order_id}", h.getByOrder)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

func (h *DeliveryHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createDeliveryReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	d, err := h.Service.CreateDelivery(ctx, req.CustomerAddress, req.CustomerEmail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, d)
}

func (h *DeliveryHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	d, err := h.Service.GetDelivery(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (h *DeliveryHandler) getByOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	d, err := h.Service.GetByOrder(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (h *DeliveryHandler) update(w http.ResponseWriter, r *http.Request) {
	var p delivery.Patch
	if err := decode(r, &p, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	d, err := h.Service.UpdateDelivery(ctx, chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (h *DeliveryHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	if err := h.Service.DeleteDelivery(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "delivery deleted"})
}
