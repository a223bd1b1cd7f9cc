package router

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

// CartService is the cart engine as seen by the HTTP layer.
type CartService interface {
	SignIn(ctx context.Context, token string) (*models.MergeOutcome, error)
	SignOut()
	Token() string
	MergeGuestCartOnSignIn(ctx context.Context) (*models.MergeOutcome, error)
	GetCart(ctx context.Context) (*models.Cart, error)
	AddToCart(ctx context.Context, productID string, quantityBoxes int) (*models.Cart, error)
	UpdateCartLine(ctx context.Context, lineID string, quantityBoxes int) (*models.Cart, error)
	RemoveCartLine(ctx context.Context, lineID string) (*models.Cart, error)
	ClearCart(ctx context.Context) error
	SetClientTier(ctx context.Context, tier models.ClientTier) (*models.Cart, error)
	ValidateCart(ctx context.Context) (*models.ValidationResult, error)
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (models.ProductSnapshot, bool, error)
	ListProducts(ctx context.Context, page, limit int, forceRefresh bool) (*models.ProductPage, bool, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger func(ctx context.Context) error

type Handler struct {
	cart    CartService
	catalog ProductCatalog
	checks  map[string]Pinger
	logger  *logrus.Logger
}

func NewHandler(cart CartService, catalog ProductCatalog, checks map[string]Pinger) *Handler {
	if checks == nil {
		checks = map[string]Pinger{}
	}
	return &Handler{cart: cart, catalog: catalog, checks: checks, logger: global.GetLogger()}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	status := map[string]string{"status": "OK"}
	healthy := true
	for name, ping := range h.checks {
		if err := ping(c.Request.Context()); err != nil {
			global.LogError(h.logger, "router", "HealthCheck", "dependency unreachable", name, err)
			status[name] = "Disconnected"
			healthy = false
			continue
		}
		status[name] = "Connected"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, global.ErrorResponse("Dependency check failed", nil))
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(status))
}

func (h *Handler) GetProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	refresh := c.Query("refresh") == "true"

	result, cached, err := h.catalog.ListProducts(c.Request.Context(), page, limit, refresh)
	if err != nil {
		h.respondError(c, "GetProducts", "Failed to get products", err)
		return
	}
	c.Header("X-Cache", cacheHeader(cached))
	c.JSON(http.StatusOK, global.SuccessResponse(result))
}

// GetProductByID serves a product snapshot, marking cache hits in X-Cache.
func (h *Handler) GetProductByID(c *gin.Context) {
	id := c.Param("id")
	if len(id) < 1 || len(id) > 64 {
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid product ID", []global.ValidationError{
			{Field: "id", Message: "Product ID must be between 1 and 64 characters", Code: "invalid_format"},
		}))
		return
	}

	product, cached, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "GetProductByID", "Failed to fetch product", err)
		return
	}
	c.Header("X-Cache", cacheHeader(cached))
	c.JSON(http.StatusOK, global.SuccessResponse(product))
}

func (h *Handler) GetCart(c *gin.Context) {
	cart, err := h.cart.GetCart(c.Request.Context())
	if err != nil {
		h.respondError(c, "GetCart", "Failed to get cart", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(cart))
}

func (h *Handler) AddToCart(c *gin.Context) {
	var req models.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	cart, err := h.cart.AddToCart(c.Request.Context(), req.ProductID, req.QuantityBoxes)
	if err != nil {
		h.respondError(c, "AddToCart", "Failed to add item to cart", err)
		return
	}
	c.JSON(http.StatusCreated, global.SuccessResponse(cart))
}

func (h *Handler) UpdateCartLine(c *gin.Context) {
	var req models.UpdateCartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	cart, err := h.cart.UpdateCartLine(c.Request.Context(), c.Param("lineId"), *req.QuantityBoxes)
	if err != nil {
		h.respondError(c, "UpdateCartLine", "Failed to update cart item", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(cart))
}

func (h *Handler) RemoveCartLine(c *gin.Context) {
	cart, err := h.cart.RemoveCartLine(c.Request.Context(), c.Param("lineId"))
	if err != nil {
		h.respondError(c, "RemoveCartLine", "Failed to remove cart item", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(cart))
}

func (h *Handler) ClearCart(c *gin.Context) {
	if err := h.cart.ClearCart(c.Request.Context()); err != nil {
		h.respondError(c, "ClearCart", "Failed to clear cart", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(models.EmptyCart()))
}

func (h *Handler) SetTier(c *gin.Context) {
	var req models.SetTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	tier, err := models.ParseClientTier(req.Tier)
	if err != nil {
		h.respondError(c, "SetTier", "Invalid client tier", err)
		return
	}

	cart, err := h.cart.SetClientTier(c.Request.Context(), tier)
	if err != nil {
		h.respondError(c, "SetTier", "Failed to set client tier", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(cart))
}

func (h *Handler) ValidateCart(c *gin.Context) {
	result, err := h.cart.ValidateCart(c.Request.Context())
	if err != nil {
		h.respondError(c, "ValidateCart", "Failed to validate cart", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(result))
}

// SignIn switches the engine to the bearer token's identity and merges the
// guest cart. A failed merge still leaves the session signed in.
func (h *Handler) SignIn(c *gin.Context) {
	outcome, err := h.cart.SignIn(c.Request.Context(), c.GetString(ctxToken))
	if err != nil {
		h.respondError(c, "SignIn", "Signed in but guest cart merge failed", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(gin.H{
		"subject": c.GetString(ctxSubject),
		"merge":   outcome,
	}))
}

func (h *Handler) SignOut(c *gin.Context) {
	if !h.ownsSession(c) {
		return
	}
	h.cart.SignOut()
	c.JSON(http.StatusOK, global.SuccessResponse(gin.H{"mode": "guest"}))
}

func (h *Handler) MergeGuestCart(c *gin.Context) {
	if !h.ownsSession(c) {
		return
	}
	outcome, err := h.cart.MergeGuestCartOnSignIn(c.Request.Context())
	if err != nil {
		h.respondError(c, "MergeGuestCart", "Failed to merge guest cart", err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(outcome))
}

// ownsSession rejects a bearer token other than the one the session signed in
// with. Before sign-in any valid token passes.
func (h *Handler) ownsSession(c *gin.Context) bool {
	current := h.cart.Token()
	if current == "" || current == c.GetString(ctxToken) {
		return true
	}
	c.JSON(http.StatusForbidden, global.ErrorResponse("Token does not own the current session", []global.ValidationError{
		{Field: "Authorization", Message: "sign in with this token first", Code: "forbidden"},
	}))
	return false
}

func (h *Handler) respondError(c *gin.Context, funcName, message string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		global.LogError(h.logger, "router", funcName, message, c.Request.URL.Path, err)
	}
	c.JSON(status, global.ErrorResponse(message, []global.ValidationError{
		{Message: err.Error(), Code: codeFor(err)},
	}))
}

// StatusFor maps a cart error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case models.IsKind(err, models.KindInvalidArgument):
		return http.StatusBadRequest
	case models.IsKind(err, models.KindNotFound):
		return http.StatusNotFound
	case models.IsKind(err, models.KindNetwork):
		return http.StatusBadGateway
	case models.IsKind(err, models.KindRemoteRejected):
		return http.StatusConflict
	case models.IsKind(err, models.KindStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	switch {
	case models.IsKind(err, models.KindInvalidArgument):
		return "invalid_argument"
	case models.IsKind(err, models.KindNotFound):
		return "not_found"
	case models.IsKind(err, models.KindNetwork):
		return "network_error"
	case models.IsKind(err, models.KindRemoteRejected):
		return "remote_rejected"
	case models.IsKind(err, models.KindStorage):
		return "storage_error"
	default:
		return "internal_error"
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid request data", []global.ValidationError{
		{Message: err.Error(), Code: "validation_error"},
	}))
}

func cacheHeader(cached bool) string {
	if cached {
		return "HIT"
	}
	return "MISS"
}
