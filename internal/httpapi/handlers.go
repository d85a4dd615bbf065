package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	parkwisev1 "github.com/MarkoPoloResearchLab/parkwise/api/parkwise/v1"
	"github.com/MarkoPoloResearchLab/parkwise/internal/projectioncache"
	"github.com/MarkoPoloResearchLab/parkwise/internal/receipt"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger       *zap.Logger
	ledgerClient parkwisev1.ReservationLedgerClient
	cfg          Config
	cache        *projectioncache.Cache
	renderer     *receipt.Renderer
}

type spotsQuery struct {
	FloorNumber int32  `form:"floor" binding:"omitempty,min=1"`
	BlockName   string `form:"block" binding:"omitempty,alphanum,max=8"`
}

type quoteQuery struct {
	VehicleType string    `form:"vehicle_type" binding:"omitempty,vehicle_type"`
	StartAt     time.Time `form:"start_at" binding:"required"`
	EndAt       time.Time `form:"end_at" binding:"required"`
}

type listReservationsQuery struct {
	Filter   string    `form:"filter" binding:"omitempty,reservation_filter"`
	Limit    int32     `form:"limit" binding:"omitempty,min=1"`
	Before   time.Time `form:"before"`
	BeforeID string    `form:"before_id" binding:"omitempty,max=128"`
}

type createReservationRequest struct {
	SpotID      string    `json:"spot_id" binding:"required"`
	VehicleID   string    `json:"vehicle_id" binding:"required,max=64"`
	VehicleType string    `json:"vehicle_type" binding:"omitempty,vehicle_type"`
	StartAt     time.Time `json:"start_at" binding:"required"`
	EndAt       time.Time `json:"end_at" binding:"required"`
}

type updateReservationRequest struct {
	StartAt time.Time `json:"start_at" binding:"required"`
	EndAt   time.Time `json:"end_at" binding:"required"`
}

type paymentRequest struct {
	AmountCents  int64  `json:"amount_cents" binding:"required,gt=0"`
	Method       string `json:"method" binding:"omitempty,payment_method"`
	Discount     string `json:"discount" binding:"omitempty,discount_type"`
	ContactEmail string `json:"contact_email" binding:"omitempty,email"`
}

type reservationPayload struct {
	ReservationID   string           `json:"reservation_id"`
	SpotID          string           `json:"spot_id"`
	VehicleID       string           `json:"vehicle_id"`
	VehicleType     string           `json:"vehicle_type"`
	StartAt         time.Time        `json:"start_at"`
	EndAt           time.Time        `json:"end_at"`
	Status          string           `json:"status"`
	DurationSeconds int64            `json:"duration_seconds"`
	AmountCents     int64            `json:"amount_cents"`
	PaymentID       string           `json:"payment_id,omitempty"`
	ControlNumber   string           `json:"control_number"`
	Location        *locationPayload `json:"location,omitempty"`
}

type locationPayload struct {
	SpotName    string `json:"spot_name"`
	BlockName   string `json:"block_name"`
	FloorName   string `json:"floor_name"`
	FloorNumber int32  `json:"floor_number"`
}

type paymentPayload struct {
	PaymentID           string    `json:"payment_id"`
	AmountCents         int64     `json:"amount_cents"`
	OriginalAmountCents int64     `json:"original_amount_cents"`
	DiscountAmountCents int64     `json:"discount_amount_cents"`
	Discount            string    `json:"discount"`
	Method              string    `json:"method"`
	Status              string    `json:"status"`
	PaidAt              time.Time `json:"paid_at"`
}

type quotePayload struct {
	VehicleType     string `json:"vehicle_type"`
	AmountCents     int64  `json:"amount_cents"`
	DurationSeconds int64  `json:"duration_seconds"`
	BaseHours       int32  `json:"base_hours"`
	BaseRateCents   int64  `json:"base_rate_cents"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleSpots(ctx *gin.Context) {
	var query spotsQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		respondBindError(ctx, err)
		return
	}
	blockName := strings.ToUpper(query.BlockName)
	spots, err := projectioncache.Load(ctx.Request.Context(), handler.cache, projectioncache.SpotsKey(query.FloorNumber, blockName), func(loadCtx context.Context) ([]*parkwisev1.Spot, error) {
		requestCtx, cancel := context.WithTimeout(loadCtx, handler.cfg.LedgerTimeout)
		defer cancel()
		response, err := handler.ledgerClient.ListSpots(requestCtx, &parkwisev1.ListSpotsRequest{FloorNumber: query.FloorNumber, BlockName: blockName})
		if err != nil {
			return nil, err
		}
		return response.Spots, nil
	})
	if err != nil {
		handler.respondLedgerError(ctx, "list spots", err)
		return
	}
	if spots == nil {
		spots = []*parkwisev1.Spot{}
	}
	ctx.JSON(http.StatusOK, gin.H{"spots": spots})
}

func (handler *httpHandler) handleDashboard(ctx *gin.Context) {
	dashboard, err := projectioncache.Load(ctx.Request.Context(), handler.cache, projectioncache.KeyDashboard, func(loadCtx context.Context) (*parkwisev1.Dashboard, error) {
		requestCtx, cancel := context.WithTimeout(loadCtx, handler.cfg.LedgerTimeout)
		defer cancel()
		return handler.ledgerClient.GetDashboard(requestCtx, &parkwisev1.GetDashboardRequest{})
	})
	if err != nil {
		handler.respondLedgerError(ctx, "dashboard", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"dashboard": dashboard})
}

func (handler *httpHandler) handleQuote(ctx *gin.Context) {
	var query quoteQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		respondBindError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	quote, err := handler.ledgerClient.QuoteReservation(requestCtx, &parkwisev1.QuoteReservationRequest{
		VehicleType:  query.VehicleType,
		StartUnixUtc: query.StartAt.Unix(),
		EndUnixUtc:   query.EndAt.Unix(),
	})
	if err != nil {
		handler.respondLedgerError(ctx, "quote", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"quote": quotePayload{
		VehicleType:     quote.VehicleType,
		AmountCents:     quote.AmountCents,
		DurationSeconds: quote.DurationSeconds,
		BaseHours:       quote.BaseHours,
		BaseRateCents:   quote.BaseRateCents,
		HourlyRateCents: quote.HourlyRateCents,
	}})
}

func (handler *httpHandler) handleCreateReservation(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request createReservationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBindError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.CreateReservation(requestCtx, &parkwisev1.CreateReservationRequest{
		CustomerId:   claims.GetUserID(),
		SpotId:       request.SpotID,
		VehicleId:    request.VehicleID,
		VehicleType:  request.VehicleType,
		StartUnixUtc: request.StartAt.Unix(),
		EndUnixUtc:   request.EndAt.Unix(),
	})
	if err != nil {
		handler.respondLedgerError(ctx, "create reservation", err)
		return
	}
	handler.invalidateProjections(ctx)
	ctx.JSON(http.StatusCreated, gin.H{"reservation": handler.reservationPayload(response.Reservation)})
}

func (handler *httpHandler) handleListReservations(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var query listReservationsQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		respondBindError(ctx, err)
		return
	}
	limit := query.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit > maximumHistoryLimit {
		limit = maximumHistoryLimit
	}
	var beforeUnix int64
	if !query.Before.IsZero() {
		beforeUnix = query.Before.Unix()
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.ListReservations(requestCtx, &parkwisev1.ListReservationsRequest{
		CustomerId:          claims.GetUserID(),
		Filter:              query.Filter,
		BeforeUnixUtc:       beforeUnix,
		BeforeReservationId: query.BeforeID,
		Limit:               limit,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "list reservations", err)
		return
	}
	reservations := make([]reservationPayload, 0, len(response.Reservations))
	for _, reservation := range response.Reservations {
		reservations = append(reservations, handler.reservationPayload(reservation))
	}
	body := gin.H{"reservations": reservations}
	if count := len(response.Reservations); count > 0 && count == int(limit) {
		last := response.Reservations[count-1]
		body["next"] = gin.H{
			"before":    time.Unix(last.StartUnixUtc, 0).UTC().Format(time.RFC3339),
			"before_id": last.ReservationId,
		}
	}
	ctx.JSON(http.StatusOK, body)
}

func (handler *httpHandler) handleGetReservation(ctx *gin.Context) {
	_, projection, ok := handler.fetchReceipt(ctx)
	if !ok {
		return
	}
	body := gin.H{"reservation": handler.reservationPayload(projection.Reservation)}
	if projection.Payment != nil {
		body["payment"] = handler.paymentPayload(projection.Payment)
	}
	ctx.JSON(http.StatusOK, body)
}

func (handler *httpHandler) handleUpdateReservation(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request updateReservationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBindError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.UpdateReservationWindow(requestCtx, &parkwisev1.UpdateReservationWindowRequest{
		CustomerId:    claims.GetUserID(),
		ReservationId: ctx.Param("id"),
		StartUnixUtc:  request.StartAt.Unix(),
		EndUnixUtc:    request.EndAt.Unix(),
	})
	if err != nil {
		handler.respondLedgerError(ctx, "update reservation", err)
		return
	}
	handler.invalidateProjections(ctx)
	ctx.JSON(http.StatusOK, gin.H{"reservation": handler.reservationPayload(response.Reservation)})
}

func (handler *httpHandler) handleCancelReservation(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.CancelReservation(requestCtx, &parkwisev1.CancelReservationRequest{
		CustomerId:    claims.GetUserID(),
		ReservationId: ctx.Param("id"),
	})
	if err != nil {
		handler.respondLedgerError(ctx, "cancel reservation", err)
		return
	}
	handler.invalidateProjections(ctx)
	ctx.JSON(http.StatusOK, gin.H{"reservation": handler.reservationPayload(response.Reservation)})
}

func (handler *httpHandler) handleDeleteReservation(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	_, err := handler.ledgerClient.DeleteReservation(requestCtx, &parkwisev1.DeleteReservationRequest{
		CustomerId:    claims.GetUserID(),
		ReservationId: ctx.Param("id"),
	})
	if err != nil {
		handler.respondLedgerError(ctx, "delete reservation", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handlePayReservation(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBindError(ctx, err)
		return
	}
	contactEmail := request.ContactEmail
	if contactEmail == "" {
		contactEmail = claims.GetUserEmail()
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.PayReservation(requestCtx, &parkwisev1.PayReservationRequest{
		CustomerId:    claims.GetUserID(),
		ReservationId: ctx.Param("id"),
		AmountCents:   request.AmountCents,
		Method:        request.Method,
		Discount:      request.Discount,
		ContactEmail:  contactEmail,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "pay reservation", err)
		return
	}
	handler.invalidateProjections(ctx)
	ctx.JSON(http.StatusOK, gin.H{
		"payment":     handler.paymentPayload(response.Payment),
		"reservation": handler.reservationPayload(response.Reservation),
	})
}

func (handler *httpHandler) handleReceipt(ctx *gin.Context) {
	claims, projection, ok := handler.fetchReceipt(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"receipt": handler.receiptDocument(claims, projection)})
}

func (handler *httpHandler) handleReceiptQR(ctx *gin.Context) {
	claims, projection, ok := handler.fetchReceipt(ctx)
	if !ok {
		return
	}
	image, err := handler.renderer.PNG(handler.receiptDocument(claims, projection))
	if err != nil {
		handler.logger.Error("receipt render failed", zap.String("reservation_id", ctx.Param("id")), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("render_failed", "unable to render receipt"))
		return
	}
	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, "image/png", image)
}

// fetchReceipt loads the receipt projection for the :id reservation, writing the error response itself.
func (handler *httpHandler) fetchReceipt(ctx *gin.Context) (*sessionvalidator.Claims, *parkwisev1.Receipt, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return nil, nil, false
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	projection, err := handler.ledgerClient.GetReceipt(requestCtx, &parkwisev1.GetReceiptRequest{
		CustomerId:    claims.GetUserID(),
		ReservationId: ctx.Param("id"),
	})
	if err != nil {
		handler.respondLedgerError(ctx, "receipt", err)
		return nil, nil, false
	}
	return claims, projection, true
}

func (handler *httpHandler) respondLedgerError(ctx *gin.Context, operation string, err error) {
	httpStatus, code, message := translateLedgerError(err)
	if httpStatus >= http.StatusInternalServerError {
		handler.logger.Error("ledger call failed", zap.String("operation", operation), zap.String("code", code), zap.Error(err))
	}
	ctx.JSON(httpStatus, errorResponse(code, message))
}

func (handler *httpHandler) invalidateProjections(ctx *gin.Context) {
	if err := handler.cache.Invalidate(ctx.Request.Context()); err != nil {
		handler.logger.Warn("projection cache invalidation failed", zap.Error(err))
	}
}

func (handler *httpHandler) toLocal(unix int64) time.Time {
	return time.Unix(unix, 0).In(handler.cfg.Location)
}

func (handler *httpHandler) reservationPayload(reservation *parkwisev1.Reservation) reservationPayload {
	if reservation == nil {
		return reservationPayload{}
	}
	payload := reservationPayload{
		ReservationID:   reservation.ReservationId,
		SpotID:          reservation.SpotId,
		VehicleID:       reservation.VehicleId,
		VehicleType:     reservation.VehicleType,
		StartAt:         handler.toLocal(reservation.StartUnixUtc),
		EndAt:           handler.toLocal(reservation.EndUnixUtc),
		Status:          reservation.Status,
		DurationSeconds: reservation.DurationSeconds,
		AmountCents:     reservation.AmountCents,
		PaymentID:       reservation.PaymentId,
		ControlNumber:   reservation.ControlNumber,
	}
	if location := reservation.Location; location != nil {
		payload.Location = &locationPayload{
			SpotName:    location.SpotName,
			BlockName:   location.BlockName,
			FloorName:   location.FloorName,
			FloorNumber: location.FloorNumber,
		}
	}
	return payload
}

func (handler *httpHandler) paymentPayload(payment *parkwisev1.Payment) paymentPayload {
	if payment == nil {
		return paymentPayload{}
	}
	return paymentPayload{
		PaymentID:           payment.PaymentId,
		AmountCents:         payment.AmountCents,
		OriginalAmountCents: payment.OriginalAmountCents,
		DiscountAmountCents: payment.DiscountAmountCents,
		Discount:            payment.Discount,
		Method:              payment.Method,
		Status:              payment.Status,
		PaidAt:              handler.toLocal(payment.PaidUnixUtc),
	}
}

// receiptDocument joins the ledger projection with the session identity.
func (handler *httpHandler) receiptDocument(claims *sessionvalidator.Claims, projection *parkwisev1.Receipt) receipt.Document {
	reservation := projection.Reservation
	if reservation == nil {
		reservation = &parkwisev1.Reservation{}
	}
	document := receipt.Document{
		ControlNumber: projection.ControlNumber,
		CustomerName:  claims.GetUserDisplayName(),
		CustomerEmail: claims.GetUserEmail(),
		ReservationID: reservation.ReservationId,
		Status:        reservation.Status,
		SpotName:      projection.SpotName,
		BlockName:     projection.BlockName,
		FloorName:     projection.FloorName,
		VehicleID:     reservation.VehicleId,
		VehicleType:   reservation.VehicleType,
		StartAt:       handler.toLocal(reservation.StartUnixUtc),
		EndAt:         handler.toLocal(reservation.EndUnixUtc),
		DurationHours: float64(reservation.DurationSeconds) / 3600,
		AmountCents:   reservation.AmountCents,
	}
	if payment := projection.Payment; payment != nil {
		document.Paid = true
		document.PaymentMethod = payment.Method
		document.Discount = payment.Discount
		document.DiscountCents = payment.DiscountAmountCents
		document.PaidCents = payment.AmountCents
		document.PaidAt = handler.toLocal(payment.PaidUnixUtc)
		if payment.ContactEmail != "" {
			document.CustomerEmail = payment.ContactEmail
		}
	}
	return document
}
