package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/http/middleware"
	"github.com/marcoshache/grain-canje-triangular/internal/model"
	"github.com/marcoshache/grain-canje-triangular/internal/service"
)

// ApplicationsExporter renders a contract's applications as a workbook.
type ApplicationsExporter interface {
	Generate(report model.ApplicationsReport) ([]byte, error)
}

// LiquidationRenderer renders the printable liquidation document.
type LiquidationRenderer interface {
	Render(liq model.Liquidation) ([]byte, error)
}

type Handler struct {
	contracts    *service.ContractService
	applications *service.ApplicationService
	liquidations *service.LiquidationService
	netting      *service.NettingService
	excel        ApplicationsExporter
	pdf          LiquidationRenderer
	log          zerolog.Logger
}

func NewHandler(
	contracts *service.ContractService,
	applications *service.ApplicationService,
	liquidations *service.LiquidationService,
	netting *service.NettingService,
	excel ApplicationsExporter,
	pdf LiquidationRenderer,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		contracts:    contracts,
		applications: applications,
		liquidations: liquidations,
		netting:      netting,
		excel:        excel,
		pdf:          pdf,
		log:          log,
	}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.GET("/contracts/:id/available", h.computeAvailable)
	protected.POST("/contracts/:id/apply", h.applySettlement)
	protected.POST("/contracts/:id/open", h.contractTransition(h.contracts.Open))
	protected.POST("/contracts/:id/close", h.contractTransition(h.contracts.Close))
	protected.POST("/contracts/:id/cancel", h.contractTransition(h.contracts.Cancel))
	protected.GET("/contracts/:id/applications/export", h.exportApplications)

	protected.POST("/liquidations/lpg", h.createLiquidation(model.LiquidationLPG))
	protected.POST("/liquidations/lsg", h.createLiquidation(model.LiquidationLSG))
	protected.POST("/liquidations/:id/post", h.postLiquidation)
	protected.POST("/liquidations/:id/cancel", h.liquidationTransition(h.liquidations.Cancel))
	protected.POST("/liquidations/:id/draft", h.liquidationTransition(h.liquidations.SetDraft))
	protected.GET("/liquidations/:id/pdf", h.renderLiquidation)

	protected.POST("/nettings/max", h.maxCompensable)
	protected.POST("/nettings/compensate", h.compensate)
}

func (h *Handler) computeAvailable(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	available, err := h.contracts.ComputeAvailable(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract_id": id, "available_tn": available})
}

type applyRequest struct {
	InvoiceID string  `json:"invoice_id" binding:"required"`
	Tonnes    float64 `json:"tonnes" binding:"required"`
	Date      string  `json:"date"`
}

func (h *Handler) applySettlement(c *gin.Context) {
	if !h.requireSettler(c) {
		return
	}
	contractID, ok := h.pathID(c)
	if !ok {
		return
	}

	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoiceID, err := uuid.Parse(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice_id"})
		return
	}
	date, err := parseDateOrToday(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}

	app, err := h.applications.Apply(c.Request.Context(), service.ApplyInput{
		ContractID: contractID,
		InvoiceID:  invoiceID,
		Tonnes:     req.Tonnes,
		Date:       date,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"application_id": app.ID,
		"tn_applied":     app.TnApplied,
		"amount":         app.Amount,
		"currency":       app.Currency,
	})
}

func (h *Handler) contractTransition(fn func(ctx context.Context, id uuid.UUID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.requireSettler(c) {
			return
		}
		id, ok := h.pathID(c)
		if !ok {
			return
		}
		if err := fn(c.Request.Context(), id); err != nil {
			h.handleError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type liquidationRequest struct {
	CompanyID    string  `json:"company_id"`
	Date         string  `json:"date"`
	ProducerID   string  `json:"producer_id" binding:"required"`
	BrokerID     string  `json:"broker_id"`
	ProductID    string  `json:"product_id" binding:"required"`
	Quantity     float64 `json:"quantity" binding:"required"`
	Price        string  `json:"price" binding:"required"`
	Unit         string  `json:"unit"`
	TaxID        *string `json:"tax_id"`
	COE          string  `json:"coe"`
	DeliveryDate string  `json:"delivery_date"`
	Port         string  `json:"port"`
	GrainGrade   string  `json:"grain_grade"`
	MatchBillID  string  `json:"match_bill_id"`
}

func (h *Handler) createLiquidation(t model.LiquidationType) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.MustPrincipal(c)
		if !ok || !principal.CanSettle() {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		var req liquidationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		input, err := req.toInput(principal)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var liq *model.Liquidation
		if t == model.LiquidationLPG {
			liq, err = h.liquidations.CreateLPG(c.Request.Context(), input)
		} else {
			liq, err = h.liquidations.CreateLSG(c.Request.Context(), input)
		}
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, liquidationResponse(liq))
	}
}

func (h *Handler) postLiquidation(c *gin.Context) {
	if !h.requireSettler(c) {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	liq, err := h.liquidations.Post(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, liquidationResponse(liq))
}

func (h *Handler) liquidationTransition(fn func(ctx context.Context, id uuid.UUID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.requireSettler(c) {
			return
		}
		id, ok := h.pathID(c)
		if !ok {
			return
		}
		if err := fn(c.Request.Context(), id); err != nil {
			h.handleError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type nettingRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required"`
	BillID    string `json:"bill_id" binding:"required"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	AutoCap   *bool  `json:"auto_cap"`
}

func (h *Handler) maxCompensable(c *gin.Context) {
	var req nettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoiceID, billID, err := req.ids()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	max, err := h.netting.MaxCompensable(c.Request.Context(), invoiceID, billID, req.Currency)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_compensable": max, "currency": req.Currency})
}

func (h *Handler) compensate(c *gin.Context) {
	if !h.requireSettler(c) {
		return
	}
	var req nettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoiceID, billID, err := req.ids()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	entryID, err := h.netting.Compensate(c.Request.Context(), service.CompensateInput{
		InvoiceID: invoiceID,
		BillID:    billID,
		Amount:    amount,
		Currency:  req.Currency,
		AutoCap:   req.AutoCap,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_id": entryID})
}

func (h *Handler) exportApplications(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	contract, err := h.contracts.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	content, err := h.excel.Generate(model.ApplicationsReport{
		Contract:     *contract,
		Applications: contract.Applications,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	fileName := "canje-" + sanitizeFileName(contract.Number) + ".xlsx"
	c.Header("Content-Disposition", "attachment; filename=\""+fileName+"\"")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content)
}

func (h *Handler) renderLiquidation(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	liq, err := h.liquidations.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	content, err := h.pdf.Render(*liq)
	if err != nil {
		h.handleError(c, err)
		return
	}
	fileName := sanitizeFileName(liq.Number) + ".pdf"
	c.Header("Content-Disposition", "attachment; filename=\""+fileName+"\"")
	c.Data(http.StatusOK, "application/pdf", content)
}

func (h *Handler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) requireSettler(c *gin.Context) bool {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return false
	}
	if !principal.CanSettle() {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return false
	}
	return true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConfiguration):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPostingFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (req liquidationRequest) toInput(principal model.Principal) (service.LiquidationInput, error) {
	producerID, err := uuid.Parse(strings.TrimSpace(req.ProducerID))
	if err != nil {
		return service.LiquidationInput{}, errors.New("invalid producer_id")
	}
	productID, err := uuid.Parse(strings.TrimSpace(req.ProductID))
	if err != nil {
		return service.LiquidationInput{}, errors.New("invalid product_id")
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return service.LiquidationInput{}, errors.New("invalid price")
	}
	date, err := parseDateOrToday(req.Date)
	if err != nil {
		return service.LiquidationInput{}, errors.New("invalid date")
	}

	input := service.LiquidationInput{
		CompanyID:  principal.CompanyID,
		Date:       date,
		ProducerID: producerID,
		ProductID:  productID,
		Quantity:   req.Quantity,
		Price:      price,
		Unit:       model.UnitTonne,
		TaxID:      req.TaxID,
		COE:        req.COE,
		Port:       req.Port,
		GrainGrade: req.GrainGrade,
	}
	if req.Unit == string(model.UnitKilogram) {
		input.Unit = model.UnitKilogram
	}
	if req.CompanyID != "" {
		companyID, err := uuid.Parse(req.CompanyID)
		if err != nil {
			return service.LiquidationInput{}, errors.New("invalid company_id")
		}
		input.CompanyID = companyID
	}
	if req.BrokerID != "" {
		brokerID, err := uuid.Parse(req.BrokerID)
		if err != nil {
			return service.LiquidationInput{}, errors.New("invalid broker_id")
		}
		input.BrokerID = &brokerID
	}
	if req.MatchBillID != "" {
		billID, err := uuid.Parse(req.MatchBillID)
		if err != nil {
			return service.LiquidationInput{}, errors.New("invalid match_bill_id")
		}
		input.MatchBillID = &billID
	}
	if req.DeliveryDate != "" {
		deliveryDate, err := parseDate(req.DeliveryDate)
		if err != nil {
			return service.LiquidationInput{}, errors.New("invalid delivery_date")
		}
		input.DeliveryDate = &deliveryDate
	}
	return input, nil
}

func (req nettingRequest) ids() (uuid.UUID, uuid.UUID, error) {
	invoiceID, err := uuid.Parse(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("invalid invoice_id")
	}
	billID, err := uuid.Parse(strings.TrimSpace(req.BillID))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("invalid bill_id")
	}
	return invoiceID, billID, nil
}

func liquidationResponse(liq *model.Liquidation) gin.H {
	resp := gin.H{
		"liquidation_id": liq.ID,
		"number":         liq.Number,
		"type":           liq.Type,
		"state":          liq.State,
		"qty_tn":         liq.QtyTn,
		"price_per_tn":   liq.PricePerTn,
		"amount_untaxed": liq.AmountUntaxed,
		"amount_tax":     liq.AmountTax,
		"amount_total":   liq.AmountTotal,
	}
	if liq.BillID != nil {
		resp["bill_id"] = *liq.BillID
	}
	if liq.PaymentID != nil {
		resp["payment_id"] = *liq.PaymentID
	}
	return resp
}

func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(value))
}

func parseDateOrToday(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return parseDate(value)
}

func sanitizeFileName(input string) string {
	result := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result = append(result, r)
		case r == '-', r == '_':
			result = append(result, r)
		default:
			result = append(result, '-')
		}
	}
	return strings.Trim(string(result), "-")
}
