// Package httpserver exposes the payment operations over HTTP: authenticated
// member endpoints for charging and checkout, and the provider webhook that
// settles hosted checkout sessions.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/solsticecon/memberd/pkg/money"
)

const (
	contextKeyUserID = "auth_user_id"

	eventCheckoutCompleted = "checkout.session.completed"
	eventCheckoutExpired   = "checkout.session.expired"

	maxWebhookBodyBytes = 1 << 16
)

// Config carries the HTTP server settings.
type Config struct {
	ListenAddr          string
	AllowedOrigins      []string
	JWTSigningKey       string
	StripeWebhookSecret string
	RequestTimeout      time.Duration
}

// Server routes HTTP requests onto the money service.
type Server struct {
	logger  *zap.Logger
	service *money.Service
	store   money.Store
	cfg     Config
}

// New wires a Server. The store is needed alongside the service to resolve
// buyables and to find the charge a webhook event refers to.
func New(logger *zap.Logger, service *money.Service, store money.Store, cfg Config) *Server {
	return &Server{
		logger:  logger,
		service: service,
		store:   store,
		cfg:     cfg,
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	router := server.Router()

	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http server listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine. Exposed for tests.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webhooks/stripe", server.handleStripeWebhook)

	api := router.Group("/api")
	api.Use(server.bearerAuth())

	api.GET("/amount-owed/:kind/:id", server.handleAmountOwed)
	api.POST("/charges", server.handleDirectCharge)
	api.POST("/checkout-sessions", server.handleStartCheckout)

	return router
}

// bearerAuth validates the Authorization header and stores the token subject
// as the acting user id.
func (server *Server) bearerAuth() gin.HandlerFunc {
	signingKey := []byte(server.cfg.JWTSigningKey)
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		rawToken := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(rawToken, func(token *jwt.Token) (interface{}, error) {
			return signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "token has no subject"))
			return
		}
		ctx.Set(contextKeyUserID, subject)
		ctx.Next()
	}
}

func (server *Server) handleAmountOwed(ctx *gin.Context) {
	buyable, ok := server.resolveOwnedBuyable(ctx, ctx.Param("kind"), ctx.Param("id"))
	if !ok {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	owed, err := server.service.AmountOwed(requestCtx, buyable)
	if err != nil {
		server.logger.Error("amount owed failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "amount owed unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"buyable_kind":      buyable.Ref().Kind.String(),
		"buyable_id":        buyable.Ref().ID,
		"price_cents":       buyable.Price().Int64(),
		"outstanding_cents": owed.Int64(),
	})
}

type directChargeRequest struct {
	BuyableKind string `json:"buyable_kind"`
	BuyableID   string `json:"buyable_id"`
	Token       string `json:"token"`
	AmountCents int64  `json:"amount_cents"`
}

func (server *Server) handleDirectCharge(ctx *gin.Context) {
	var request directChargeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	buyable, ok := server.resolveOwnedBuyable(ctx, request.BuyableKind, request.BuyableID)
	if !ok {
		return
	}
	token, err := money.NewPaymentToken(request.Token)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_token", "payment token is required"))
		return
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	owed, err := server.service.AmountOwed(requestCtx, buyable)
	if err != nil {
		server.logger.Error("amount owed failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "amount owed unavailable"))
		return
	}
	result, err := server.service.ChargeCustomer(requestCtx, money.DirectChargeInput{
		Buyable:           buyable,
		UserID:            buyable.Owner(),
		Token:             token,
		AmountOwedCents:   owed,
		ChargeAmountCents: money.AmountCents(request.AmountCents),
	})
	if err != nil {
		server.logger.Error("direct charge failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "charge failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"succeeded": result.Succeeded,
		"errors":    result.Errors,
		"charge":    chargePayloadFrom(result.Charge),
	})
}

type startCheckoutRequest struct {
	ReservationID string `json:"reservation_id"`
	AmountCents   int64  `json:"amount_cents"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
	Site          bool   `json:"site"`
}

func (server *Server) handleStartCheckout(ctx *gin.Context) {
	var request startCheckoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	buyable, ok := server.resolveOwnedBuyable(ctx, money.BuyableReservation.String(), request.ReservationID)
	if !ok {
		return
	}
	reservation, isReservation := buyable.(money.Reservation)
	if !isReservation {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_buyable", "checkout requires a reservation"))
		return
	}
	if request.SuccessURL == "" || request.CancelURL == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "success and cancel urls are required"))
		return
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	owed, err := server.service.AmountOwed(requestCtx, reservation)
	if err != nil {
		server.logger.Error("amount owed failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "amount owed unavailable"))
		return
	}
	result, err := server.service.StartCheckout(requestCtx, money.StartCheckoutInput{
		Reservation:       reservation,
		UserID:            reservation.Owner(),
		AmountOwedCents:   owed,
		ChargeAmountCents: money.AmountCents(request.AmountCents),
		SuccessURL:        request.SuccessURL,
		CancelURL:         request.CancelURL,
		SitePayment:       request.Site,
	})
	if err != nil {
		server.logger.Error("start checkout failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "checkout failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"succeeded":    result.Succeeded,
		"errors":       result.Errors,
		"checkout_url": result.CheckoutURL,
		"charge":       chargePayloadFrom(result.Charge),
	})
}

// handleStripeWebhook verifies the event signature and settles the checkout
// charge the event refers to. Replays and races with the reconciliation sweep
// come back as domain errors and are acknowledged, not retried.
func (server *Server) handleStripeWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), server.cfg.StripeWebhookSecret)
	if err != nil {
		server.logger.Warn("webhook signature rejected", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "signature verification failed"))
		return
	}

	eventType := string(event.Type)
	if eventType != eventCheckoutCompleted && eventType != eventCheckoutExpired {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var sessionData stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sessionData); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "malformed session object"))
		return
	}
	session := money.CheckoutSession{
		ID:     sessionData.ID,
		URL:    sessionData.URL,
		Status: money.CheckoutSessionStatus(sessionData.Status),
		Raw:    string(event.Data.Raw),
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	charge, err := server.store.GetChargeByProviderRef(requestCtx, session.ID)
	if err != nil {
		if errors.Is(err, money.ErrUnknownCharge) {
			// Session from another system sharing the Stripe account.
			ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		server.logger.Error("webhook charge lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "charge lookup failed"))
		return
	}

	switch eventType {
	case eventCheckoutCompleted:
		_, err = server.service.CheckoutSucceeded(requestCtx, charge, session, event.ID)
	case eventCheckoutExpired:
		_, err = server.service.CheckoutFailed(requestCtx, charge, session, event.ID)
	}
	if err != nil {
		if errors.Is(err, money.ErrWebhookEventProcessed) || errors.Is(err, money.ErrChargeSettled) {
			ctx.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		server.logger.Error("webhook settlement failed",
			zap.String("event_id", event.ID),
			zap.String("session_id", session.ID),
			zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "settlement failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// resolveOwnedBuyable loads the buyable and checks it belongs to the
// authenticated user. Writes the error response itself when it fails.
func (server *Server) resolveOwnedBuyable(ctx *gin.Context, rawKind string, id string) (money.Buyable, bool) {
	userID := authenticatedUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return nil, false
	}
	kind, err := money.ParseBuyableKind(rawKind)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_buyable", "unknown buyable kind"))
		return nil, false
	}
	ref, err := money.NewBuyableRef(kind, id)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_buyable", "buyable id is required"))
		return nil, false
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	var buyable money.Buyable
	switch ref.Kind {
	case money.BuyableReservation:
		buyable, err = server.store.GetReservation(requestCtx, ref.ID)
	case money.BuyableCart:
		buyable, err = server.store.GetCart(requestCtx, ref.ID)
	}
	if err != nil {
		if errors.Is(err, money.ErrUnknownReservation) || errors.Is(err, money.ErrUnknownCart) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "no such "+ref.Kind.String()))
			return nil, false
		}
		server.logger.Error("buyable lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "lookup failed"))
		return nil, false
	}
	if buyable.Owner().String() != userID {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "not your "+ref.Kind.String()))
		return nil, false
	}
	return buyable, true
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	timeout := server.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx.Request.Context(), timeout)
}

func authenticatedUserID(ctx *gin.Context) string {
	value, ok := ctx.Get(contextKeyUserID)
	if !ok {
		return ""
	}
	userID, _ := value.(string)
	return userID
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type chargePayload struct {
	ChargeID    string `json:"charge_id"`
	State       string `json:"state"`
	Origin      string `json:"origin"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Comment     string `json:"comment"`
	Site        bool   `json:"site"`
}

func chargePayloadFrom(charge money.Charge) chargePayload {
	return chargePayload{
		ChargeID:    charge.ChargeID.String(),
		State:       charge.State.String(),
		Origin:      charge.Origin.String(),
		AmountCents: charge.AmountCents.Int64(),
		Currency:    charge.Currency.Display(),
		Comment:     charge.Comment,
		Site:        charge.Site,
	}
}
