package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/drops/pkg/drops"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// Webhook event names accepted from the payment processor.
const (
	webhookIntentSucceeded = "payment_intent.succeeded"
	webhookIntentCancelled = "payment_intent.cancelled"
	webhookIntentFailed    = "payment_intent.payment_failed"
)

type httpHandler struct {
	logger  *zap.Logger
	service *drops.Service
	cfg     Config
}

func (handler *httpHandler) handleCurrentDrop(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	drop, err := handler.service.CurrentDrop(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	verdict, err := handler.service.Orderable(requestCtx, drop.DropID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"drop":         dropPayloadFrom(drop),
		"orderability": verdictPayloadFrom(verdict),
	})
}

func (handler *httpHandler) handleOrderability(ctx *gin.Context) {
	dropID, err := drops.NewDropID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	verdict, err := handler.service.Orderable(requestCtx, dropID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, verdictPayloadFrom(verdict))
}

func (handler *httpHandler) handleInventory(ctx *gin.Context) {
	dropID, err := drops.NewDropID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	products, err := handler.service.Inventory(requestCtx, dropID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]productPayload, 0, len(products))
	for _, product := range products {
		payload = append(payload, productPayloadFrom(product))
	}
	ctx.JSON(http.StatusOK, gin.H{"products": payload})
}

func (handler *httpHandler) handleCreateIntent(ctx *gin.Context) {
	var payload intentRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	request := drops.IntentRequest{
		Customer: drops.CustomerInfo{
			Name:     payload.Customer.Name,
			Email:    payload.Customer.Email,
			Phone:    payload.Customer.Phone,
			PickupAt: payload.Customer.PickupAt,
		},
	}
	for _, item := range payload.Items {
		dropProductID, err := drops.NewDropProductID(item.DropProductID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		quantity, err := drops.NewQuantity(item.Quantity)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		request.Items = append(request.Items, drops.IntentLine{DropProductID: dropProductID, Quantity: quantity})
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	handle, err := handler.service.CreateIntent(requestCtx, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"intent_id":     handle.IntentID.String(),
		"client_secret": handle.ClientSecret,
		"status":        handle.Status.String(),
		"total_cents":   handle.TotalCents,
	})
}

func (handler *httpHandler) handleValidateIntent(ctx *gin.Context) {
	intentID, err := drops.NewIntentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	validation, err := handler.service.ValidateIntent(requestCtx, intentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":   validation.Status.String(),
		"reusable": validation.Reusable,
	})
}

func (handler *httpHandler) handleOrderByIntent(ctx *gin.Context) {
	intentID, err := drops.NewIntentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	order, err := handler.service.OrderByIntent(requestCtx, intentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, orderPayloadFrom(order))
}

// handlePaymentWebhook translates processor events into domain calls. A
// succeeded intent materializes an order; a cancelled or failed intent returns
// its holds to stock. Unknown event types are acknowledged and ignored so the
// processor does not retry them forever.
func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	var payload webhookPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	intentID, err := drops.NewIntentID(payload.IntentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	switch payload.Type {
	case webhookIntentSucceeded:
		order, err := handler.service.Materialize(requestCtx, intentID, payload.MetadataJSON)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "materialized", "order": orderPayloadFrom(order)})
	case webhookIntentCancelled, webhookIntentFailed:
		if err := handler.service.ReleaseIntent(requestCtx, intentID); err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "released"})
	default:
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (handler *httpHandler) handleListDrops(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	listed, err := handler.service.ListDrops(requestCtx, 0)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]dropPayload, 0, len(listed))
	for _, drop := range listed {
		payload = append(payload, dropPayloadFrom(drop))
	}
	ctx.JSON(http.StatusOK, gin.H{"drops": payload})
}

func (handler *httpHandler) handleCreateDrop(ctx *gin.Context) {
	var payload createDropPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	locationID, err := drops.NewLocationID(payload.LocationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	date, err := parseDate(payload.Date)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_date", "expected RFC3339 or YYYY-MM-DD"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	drop, err := handler.service.CreateDrop(requestCtx, locationID, date, payload.Notes)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, dropPayloadFrom(drop))
}

func (handler *httpHandler) handleChangeStatus(ctx *gin.Context) {
	dropID, err := drops.NewDropID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var payload changeStatusPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	target, err := drops.ParseDropStatus(payload.Status)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	options := []drops.StatusChangeOption{}
	if payload.AllowEmptyStock {
		options = append(options, drops.AllowEmptyStock())
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	if err := handler.service.ChangeStatus(requestCtx, dropID, target, actorFrom(ctx), options...); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": target.String()})
}

func (handler *httpHandler) handleAddProduct(ctx *gin.Context) {
	dropID, err := drops.NewDropID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var payload addProductPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	productID, err := drops.NewProductID(payload.ProductID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	sellingPrice, err := drops.NewPriceCents(payload.SellingPriceCents)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	product, err := handler.service.AddDropProduct(requestCtx, dropID, productID, payload.Stock, sellingPrice)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, productPayloadFrom(product))
}

func (handler *httpHandler) handleSetStock(ctx *gin.Context) {
	dropProductID, err := drops.NewDropProductID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var payload setStockPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	if err := handler.service.SetStock(requestCtx, dropProductID, payload.Stock); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stock_quantity": payload.Stock})
}

func (handler *httpHandler) handleDeleteDrop(ctx *gin.Context) {
	dropID, err := drops.NewDropID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	force := ctx.Query("force") == "true"

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	if err := handler.service.DeleteDrop(requestCtx, dropID, force); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// respondError maps domain sentinels onto HTTP statuses and stable error
// codes. Insufficient stock additionally carries the per-line shortfall so the
// storefront can show which items sold out.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	var insufficientError *drops.InsufficientStockError
	if errors.As(err, &insufficientError) {
		lines := make([]unavailablePayload, 0, len(insufficientError.Unavailable))
		for _, line := range insufficientError.Unavailable {
			lines = append(lines, unavailablePayload{
				DropProductID: line.DropProductID.String(),
				Requested:     line.Requested,
				Available:     line.Available,
			})
		}
		ctx.JSON(http.StatusConflict, gin.H{
			"error": gin.H{
				"code":        "insufficient_stock",
				"message":     "one or more items are no longer available",
				"unavailable": lines,
			},
		})
		return
	}

	switch {
	case errors.Is(err, drops.ErrInvalidCustomerInfo),
		errors.Is(err, drops.ErrInvalidLineItems),
		errors.Is(err, drops.ErrInvalidQuantity),
		errors.Is(err, drops.ErrInvalidPriceCents),
		errors.Is(err, drops.ErrInvalidDropID),
		errors.Is(err, drops.ErrInvalidDropProductID),
		errors.Is(err, drops.ErrInvalidProductID),
		errors.Is(err, drops.ErrInvalidLocationID),
		errors.Is(err, drops.ErrInvalidIntentID),
		errors.Is(err, drops.ErrInvalidDropStatus),
		errors.Is(err, drops.ErrInvalidSnapshot):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.Is(err, drops.ErrUnknownDrop),
		errors.Is(err, drops.ErrUnknownDropProduct),
		errors.Is(err, drops.ErrUnknownLocation),
		errors.Is(err, drops.ErrUnknownIntent):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, drops.ErrOrderNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("order_not_found", "no order for this intent yet"))
	case errors.Is(err, drops.ErrNoActiveDrop):
		ctx.JSON(http.StatusConflict, errorResponse("no_active_drop", "no drop is currently accepting orders"))
	case errors.Is(err, drops.ErrNotOrderable):
		ctx.JSON(http.StatusConflict, errorResponse("not_orderable", err.Error()))
	case errors.Is(err, drops.ErrInvalidTransition):
		ctx.JSON(http.StatusConflict, errorResponse("invalid_transition", err.Error()))
	case errors.Is(err, drops.ErrDropHasOrders):
		ctx.JSON(http.StatusConflict, errorResponse("drop_has_orders", err.Error()))
	case errors.Is(err, drops.ErrDeleteRequiresForce):
		ctx.JSON(http.StatusConflict, errorResponse("force_required", "pass force=true to delete"))
	case errors.Is(err, drops.ErrEmptyDropStock):
		ctx.JSON(http.StatusConflict, errorResponse("empty_drop_stock", err.Error()))
	case errors.Is(err, drops.ErrStockBelowReserved):
		ctx.JSON(http.StatusConflict, errorResponse("stock_below_reserved", err.Error()))
	case errors.Is(err, drops.ErrReservationClosed):
		ctx.JSON(http.StatusConflict, errorResponse("holds_released", "the payment's holds were already released"))
	case errors.Is(err, drops.ErrExternalService):
		handler.logger.Error("payment processor failure", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("payment_processor_error", "payment processor unavailable"))
	default:
		handler.logger.Error("internal failure", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "internal error"))
	}
}

func actorFrom(ctx *gin.Context) string {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return ""
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	if claims == nil {
		return ""
	}
	return claims.GetUserEmail()
}

func parseDate(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type intentRequestPayload struct {
	Customer customerPayload     `json:"customer"`
	Items    []intentLinePayload `json:"items"`
}

type customerPayload struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	PickupAt time.Time `json:"pickup_at"`
}

type intentLinePayload struct {
	DropProductID string `json:"drop_product_id"`
	Quantity      int64  `json:"quantity"`
}

type webhookPayload struct {
	Type         string `json:"type"`
	IntentID     string `json:"intent_id"`
	MetadataJSON string `json:"metadata_json"`
}

type createDropPayload struct {
	LocationID string `json:"location_id"`
	Date       string `json:"date"`
	Notes      string `json:"notes"`
}

type changeStatusPayload struct {
	Status          string `json:"status"`
	AllowEmptyStock bool   `json:"allow_empty_stock"`
}

type addProductPayload struct {
	ProductID         string `json:"product_id"`
	Stock             int64  `json:"stock"`
	SellingPriceCents int64  `json:"selling_price_cents"`
}

type setStockPayload struct {
	Stock int64 `json:"stock"`
}

type unavailablePayload struct {
	DropProductID string `json:"drop_product_id"`
	Requested     int64  `json:"requested"`
	Available     int64  `json:"available"`
}

type dropPayload struct {
	DropID         string     `json:"drop_id"`
	LocationID     string     `json:"location_id"`
	Date           time.Time  `json:"date"`
	Status         string     `json:"status"`
	PickupDeadline *time.Time `json:"pickup_deadline,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

func dropPayloadFrom(drop drops.Drop) dropPayload {
	return dropPayload{
		DropID:         drop.DropID.String(),
		LocationID:     drop.LocationID.String(),
		Date:           drop.Date,
		Status:         drop.Status.String(),
		PickupDeadline: drop.PickupDeadline,
		Notes:          drop.Notes,
	}
}

type verdictPayload struct {
	Orderable            bool   `json:"orderable"`
	InGracePeriod        bool   `json:"in_grace_period"`
	TimeRemainingSeconds int64  `json:"time_remaining_seconds"`
	Reason               string `json:"reason,omitempty"`
}

func verdictPayloadFrom(verdict drops.Verdict) verdictPayload {
	return verdictPayload{
		Orderable:            verdict.Orderable,
		InGracePeriod:        verdict.InGracePeriod,
		TimeRemainingSeconds: int64(verdict.TimeRemaining.Seconds()),
		Reason:               verdict.Reason,
	}
}

type productPayload struct {
	DropProductID     string `json:"drop_product_id"`
	ProductID         string `json:"product_id"`
	StockQuantity     int64  `json:"stock_quantity"`
	ReservedQuantity  int64  `json:"reserved_quantity"`
	AvailableQuantity int64  `json:"available_quantity"`
	SellingPriceCents int64  `json:"selling_price_cents"`
}

func productPayloadFrom(product drops.DropProduct) productPayload {
	return productPayload{
		DropProductID:     product.DropProductID.String(),
		ProductID:         product.ProductID.String(),
		StockQuantity:     product.StockQuantity,
		ReservedQuantity:  product.ReservedQuantity,
		AvailableQuantity: product.Available(),
		SellingPriceCents: product.SellingPriceCents.Int64(),
	}
}

type orderPayload struct {
	OrderID        string    `json:"order_id"`
	IntentID       string    `json:"intent_id"`
	DropID         string    `json:"drop_id"`
	Status         string    `json:"status"`
	TotalCents     int64     `json:"total_cents"`
	PickupAt       time.Time `json:"pickup_at"`
	CreatedUnixUTC int64     `json:"created_unix_utc"`
}

func orderPayloadFrom(order drops.Order) orderPayload {
	return orderPayload{
		OrderID:        order.OrderID.String(),
		IntentID:       order.IntentID.String(),
		DropID:         order.DropID.String(),
		Status:         order.Status.String(),
		TotalCents:     order.TotalCents.Int64(),
		PickupAt:       order.PickupAt,
		CreatedUnixUTC: order.CreatedUnixUTC,
	}
}
