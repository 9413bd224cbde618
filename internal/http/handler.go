package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"flowdelivery/internal/auth"
	"flowdelivery/internal/models"
	"flowdelivery/internal/services"
	"flowdelivery/internal/tracking"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Stores   *services.StoreService
	Drivers  *services.DriverService
	Orders   *services.OrderService
	Delivery *services.DeliveryService
	Live     *tracking.Hub
}

func NewHandler(stores *services.StoreService, drivers *services.DriverService, orders *services.OrderService, delivery *services.DeliveryService, live *tracking.Hub) *Handler {
	return &Handler{Stores: stores, Drivers: drivers, Orders: orders, Delivery: delivery, Live: live}
}

func ownerStoreID(r *http.Request) (string, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok || p.Kind != auth.KindStoreOwner {
		return "", false
	}
	return p.StoreID, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "order not found")
	case errors.Is(err, services.ErrNoAssignment):
		writeError(w, http.StatusNotFound, "NO_ASSIGNMENT", "order has no delivery assignment")
	case errors.Is(err, services.ErrAlreadyAssigned):
		writeError(w, http.StatusConflict, "ALREADY_ASSIGNED", "order already has a delivery assignment")
	case errors.Is(err, services.ErrDriverNotFound):
		writeError(w, http.StatusNotFound, "DRIVER_NOT_FOUND", "driver not found or inactive")
	case errors.Is(err, services.ErrDriverBusy):
		writeError(w, http.StatusConflict, "DRIVER_BUSY", "driver has an active delivery")
	case errors.Is(err, services.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "INVALID_TRANSITION", "status transition not allowed")
	case errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidTotal),
		errors.Is(err, services.ErrInvalidPaymentMethod),
		errors.Is(err, services.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, services.ErrEmailTaken):
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	case errors.Is(err, services.ErrForeignAssignment):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "credential does not cover this assignment")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type registerRequest struct {
	StoreName string `json:"storeName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type storeResponse struct {
	StoreID string `json:"storeId"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if req.StoreName == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "storeName and email are required")
		return
	}

	st, err := h.Stores.Register(r.Context(), req.StoreName, req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, storeResponse{StoreID: st.StoreID, Name: st.Name, Email: st.Email})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}

	token, err := h.Stores.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type createDriverRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type driverResponse struct {
	DriverID    string `json:"driverId"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Status      string `json:"status"`
	IsActive    bool   `json:"isActive"`
	AccessToken string `json:"accessToken,omitempty"`
}

func driverToResponse(d *models.Driver, withToken bool) driverResponse {
	resp := driverResponse{
		DriverID: d.DriverID,
		Name:     d.Name,
		Phone:    d.Phone,
		Status:   string(d.Status),
		IsActive: d.IsActive,
	}
	if withToken {
		resp.AccessToken = d.AccessToken
	}
	return resp
}

func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	storeID, ok := ownerStoreID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
		return
	}

	var req createDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}

	d, err := h.Drivers.Create(r.Context(), storeID, req.Name, req.Phone)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	// The only response that ever carries the capability token.
	writeJSON(w, http.StatusCreated, driverToResponse(d, true))
}

func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	storeID, ok := ownerStoreID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
		return
	}

	drivers, err := h.Drivers.List(r.Context(), storeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp := make([]driverResponse, 0, len(drivers))
	for _, d := range drivers {
		resp = append(resp, driverToResponse(d, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateDriverRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) UpdateDriver(w http.ResponseWriter, r *http.Request) {
	storeID, ok := ownerStoreID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
		return
	}

	var req updateDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "isActive is required")
		return
	}

	driverID := chi.URLParam(r, "driverId")
	if err := h.Drivers.SetActive(r.Context(), storeID, driverID, *req.IsActive); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createOrderRequest struct {
	CustomerName    string `json:"customerName"`
	DeliveryAddress string `json:"deliveryAddress"`
	TotalCents      int64  `json:"totalCents"`
	PaymentMethod   string `json:"paymentMethod"`
}

type orderResponse struct {
	OrderID         string `json:"orderId"`
	CustomerName    string `json:"customerName"`
	DeliveryAddress string `json:"deliveryAddress"`
	TotalCents      int64  `json:"totalCents"`
	PaymentMethod   string `json:"paymentMethod"`
	PaymentStatus   string `json:"paymentStatus"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
}

func orderToResponse(o *models.Order) orderResponse {
	return orderResponse{
		OrderID:         o.OrderID,
		CustomerName:    o.CustomerName,
		DeliveryAddress: o.DeliveryAddress,
		TotalCents:      o.TotalCents,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	storeID, ok := ownerStoreID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if req.CustomerName == "" || req.DeliveryAddress == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "customerName and deliveryAddress are required")
		return
	}

	o, err := h.Orders.Create(r.Context(), storeID, services.NewOrder{
		CustomerName:    req.CustomerName,
		DeliveryAddress: req.DeliveryAddress,
		TotalCents:      req.TotalCents,
		PaymentMethod:   models.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderToResponse(o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	storeID, ok := ownerStoreID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
		return
	}

	o, err := h.Orders.Get(r.Context(), storeID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	storeID, ok := ownerStoreID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
		return
	}

	orders, err := h.Orders.List(r.Context(), storeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderToResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

type assignRequest struct {
	DriverID              string  `json:"driverId"`
	PickupAddress         *string `json:"pickupAddress"`
	EstimatedDeliveryTime *string `json:"estimatedDeliveryTime"`
}

type assignmentResponse struct {
	AssignmentID          string  `json:"assignmentId"`
	OrderID               string  `json:"orderId"`
	DriverID              string  `json:"driverId"`
	Status                string  `json:"status"`
	PickupAddress         *string `json:"pickupAddress,omitempty"`
	EstimatedDeliveryTime string  `json:"estimatedDeliveryTime,omitempty"`
	ActualDeliveryTime    string  `json:"actualDeliveryTime,omitempty"`
	CODAmountCents        int64   `json:"codAmountCents"`
	CODCollected          bool    `json:"codCollected"`
	FeeCents              int64   `json:"feeCents"`
	Notes                 *string `json:"notes,omitempty"`
}

func assignmentToResponse(a *models.Assignment) assignmentResponse {
	resp := assignmentResponse{
		AssignmentID:   a.AssignmentID,
		OrderID:        a.OrderID,
		DriverID:       a.DriverID,
		Status:         string(a.Status),
		PickupAddress:  a.PickupAddress,
		CODAmountCents: a.CODAmountCents,
		CODCollected:   a.CODCollected,
		FeeCents:       a.FeeCents,
		Notes:          a.Notes,
	}
	if a.EstimatedDeliveryTime != nil {
		resp.EstimatedDeliveryTime = a.EstimatedDeliveryTime.Format(time.RFC3339)
	}
	if a.ActualDeliveryTime != nil {
		resp.ActualDeliveryTime = a.ActualDeliveryTime.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) AssignDriver(w http.ResponseWriter, r *http.Request) {
	storeID, ok := ownerStoreID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "driverId is required")
		return
	}

	in := services.AssignInput{DriverID: req.DriverID, PickupAddress: req.PickupAddress}
	if req.EstimatedDeliveryTime != nil {
		t, err := time.Parse(time.RFC3339, *req.EstimatedDeliveryTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "estimatedDeliveryTime must be RFC3339")
			return
		}
		in.EstimatedDeliveryTime = &t
	}

	a, err := h.Delivery.Assign(r.Context(), storeID, chi.URLParam(r, "orderId"), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignmentToResponse(a))
}

type statusUpdateRequest struct {
	Status          string  `json:"status"`
	ProofOfDelivery *string `json:"proofOfDelivery"`
	CODCollected    *bool   `json:"codCollected"`
	Notes           *string `json:"notes"`
}

func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer credential")
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status is required")
		return
	}

	a, err := h.Delivery.UpdateStatus(r.Context(), p, chi.URLParam(r, "orderId"), services.StatusInput{
		Status:          models.AssignmentStatus(req.Status),
		ProofOfDelivery: req.ProofOfDelivery,
		CODCollected:    req.CODCollected,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentToResponse(a))
}

type timelineStepResponse struct {
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
	Current   bool   `json:"current"`
}

type trackingOrderResponse struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	PaymentMethod string `json:"paymentMethod"`
	PaymentStatus string `json:"paymentStatus"`
	TotalCents    int64  `json:"totalCents"`
}

type trackingAssignmentResponse struct {
	Status                string `json:"status"`
	DriverName            string `json:"driverName,omitempty"`
	EstimatedDeliveryTime string `json:"estimatedDeliveryTime,omitempty"`
	ActualDeliveryTime    string `json:"actualDeliveryTime,omitempty"`
	ProofAvailable        bool   `json:"proofAvailable"`
}

type trackingResponse struct {
	Order      trackingOrderResponse       `json:"order"`
	Assignment *trackingAssignmentResponse `json:"assignment"`
	Timeline   []timelineStepResponse      `json:"timeline"`
}

// TrackDelivery is the public read projection; it exposes no credentials and
// no driver contact details.
func (h *Handler) TrackDelivery(w http.ResponseWriter, r *http.Request) {
	view, err := h.Delivery.Track(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := trackingResponse{
		Order: trackingOrderResponse{
			OrderID:       view.Order.OrderID,
			Status:        string(view.Order.Status),
			PaymentMethod: string(view.Order.PaymentMethod),
			PaymentStatus: string(view.Order.PaymentStatus),
			TotalCents:    view.Order.TotalCents,
		},
		Timeline: make([]timelineStepResponse, 0, len(view.Timeline)),
	}
	for _, step := range view.Timeline {
		resp.Timeline = append(resp.Timeline, timelineStepResponse{
			Status:    string(step.Status),
			Completed: step.Completed,
			Current:   step.Current,
		})
	}
	if a := view.Assignment; a != nil {
		ta := &trackingAssignmentResponse{
			Status:         string(a.Status),
			DriverName:     view.DriverName,
			ProofAvailable: a.ProofOfDelivery != nil,
		}
		if a.EstimatedDeliveryTime != nil {
			ta.EstimatedDeliveryTime = a.EstimatedDeliveryTime.Format(time.RFC3339)
		}
		if a.ActualDeliveryTime != nil {
			ta.ActualDeliveryTime = a.ActualDeliveryTime.Format(time.RFC3339)
		}
		resp.Assignment = ta
	}
	writeJSON(w, http.StatusOK, resp)
}

// LiveDelivery upgrades to a websocket pushing committed transitions.
func (h *Handler) LiveDelivery(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if _, err := h.Delivery.Track(r.Context(), orderID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.Live.ServeWS(w, r, orderID)
}
