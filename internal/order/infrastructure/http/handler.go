package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/dkotelnikov/order-engine/internal/inventory/domain"
	"github.com/dkotelnikov/order-engine/internal/order/application"
	"github.com/dkotelnikov/order-engine/internal/order/domain"
)

// Handler is the thin CRUD glue over the order service. All invariants live
// below it; this layer only decodes, dispatches and renders errors with
// enough detail for the storefront to show an actionable message.
type Handler struct {
	log     *slog.Logger
	service *application.Service
	idem    func(http.Handler) http.Handler
	tracer  trace.Tracer
}

// NewHandler builds the handler; idem guards order creation against
// duplicate submissions and may be nil.
func NewHandler(log *slog.Logger, service *application.Service, idem func(http.Handler) http.Handler) *Handler {
	return &Handler{
		log:     log,
		service: service,
		idem:    idem,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	if h.idem != nil {
		r.With(h.idem).Post("/orders", h.createOrder)
	} else {
		r.Post("/orders", h.createOrder)
	}
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}", h.updateOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/payment-confirmation", h.confirmPayment)
	return r
}

type lineReq struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type deliveryReq struct {
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Type    string `json:"type"`
}

type createOrderReq struct {
	UserID   *string     `json:"user_id,omitempty"`
	Delivery deliveryReq `json:"delivery"`
	Items    []lineReq   `json:"items"`
}

type updateOrderReq struct {
	Items []lineReq `json:"items"`
}

type lineItemResp struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Cost      decimal.Decimal `json:"cost"`
}

type orderResp struct {
	ID         string          `json:"id"`
	UserID     *string         `json:"user_id,omitempty"`
	DeliveryID string          `json:"delivery_id"`
	Status     string          `json:"status"`
	Paid       bool            `json:"paid"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Items      []lineItemResp  `json:"items"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid body"))
		return
	}

	o, err := h.service.Create(ctx, application.CreateRequest{
		Lines:  toLines(req.Items),
		UserID: req.UserID,
		Delivery: application.DeliveryRequest{
			Address: req.Delivery.Address,
			Phone:   req.Delivery.Phone,
			Type:    req.Delivery.Type,
		},
	})
	if err != nil {
		h.renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrder")
	defer span.End()

	var req updateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid body"))
		return
	}

	o, err := h.service.Update(ctx, chi.URLParam(r, "id"), toLines(req.Items))
	if err != nil {
		h.renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	if err := h.service.Cancel(ctx, chi.URLParam(r, "id")); err != nil {
		h.renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCancelled)})
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmPayment")
	defer span.End()

	o, err := h.service.ConfirmPayment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

type errorResp struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id,omitempty"`
	Requested int64  `json:"requested,omitempty"`
	Available int64  `json:"available,omitempty"`
}

// renderError maps the error taxonomy to statuses: client input 400, missing
// things 404, stock/state rejections 409.
func (h *Handler) renderError(w http.ResponseWriter, err error) {
	resp := errorResp{Error: err.Error()}
	status := http.StatusInternalServerError

	var (
		dup        *domain.DuplicateProductError
		badQty     *domain.InvalidQuantityError
		badState   *domain.InvalidTransitionError
		unknown    *invdomain.UnknownProductError
		outOfStock *invdomain.OutOfStockError
		short      *invdomain.InsufficientStockError
	)
	switch {
	case errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidPhone),
		errors.As(err, &dup),
		errors.As(err, &badQty):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.As(err, &unknown):
		status = http.StatusNotFound
		resp.ProductID = unknown.ProductID
	case errors.As(err, &outOfStock):
		status = http.StatusConflict
		resp.ProductID = outOfStock.ProductID
	case errors.As(err, &short):
		status = http.StatusConflict
		resp.ProductID = short.ProductID
		resp.Requested = short.Requested
		resp.Available = short.Available
	case errors.As(err, &badState), errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	default:
		h.log.Error("order request failed", "err", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func toLines(items []lineReq) []application.LineRequest {
	lines := make([]application.LineRequest, 0, len(items))
	for _, it := range items {
		lines = append(lines, application.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

func toOrderResp(o *domain.Order) orderResp {
	items := make([]lineItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemResp{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Cost:      it.Cost,
		})
	}
	return orderResp{
		ID:         o.ID,
		UserID:     o.UserID,
		DeliveryID: o.DeliveryID,
		Status:     string(o.Status),
		Paid:       o.Paid,
		TotalCost:  o.TotalCost,
		Items:      items,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResp{Error: err.Error()})
}
