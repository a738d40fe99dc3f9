package handler

import (
	"net/http"

	"bencidata/internal/dto"
	"bencidata/internal/middleware"
	"bencidata/internal/service"

	"github.com/gin-gonic/gin"
)

type CashbookHandler struct{ svc service.CashbookService }

func NewCashbookHandler(svc service.CashbookService) *CashbookHandler {
	return &CashbookHandler{svc: svc}
}

// record binds the request of a session-scoped cash record and answers 201.
func record[Req any, Resp any](c *gin.Context, fn func(id uint, req Req) (Resp, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req Req
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := fn(id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ProductSale godoc
// @Summary Registra una venta de productos de la tienda
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de sesion"
// @Param body body dto.ProductSaleRequest true "Productos y cantidades"
// @Success 201 {object} dto.ProductSaleResponse
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/sessions/{id}/product-sales [post]
func (h *CashbookHandler) ProductSale(c *gin.Context) {
	record(c, func(id uint, req dto.ProductSaleRequest) (*dto.ProductSaleResponse, error) {
		return h.svc.RecordProductSale(c.Request.Context(), middleware.GetActor(c), id, req)
	})
}

// CreditSale godoc
// @Summary Registra una venta de combustible a credito
// @Tags caja
// @Router /v1/sessions/{id}/credit-sales [post]
func (h *CashbookHandler) CreditSale(c *gin.Context) {
	record(c, func(id uint, req dto.CreditSaleRequest) (*dto.CreditSaleResponse, error) {
		return h.svc.RecordCreditSale(c.Request.Context(), middleware.GetActor(c), id, req)
	})
}

// Withdrawal godoc
// @Summary Registra una tirada de caja
// @Tags caja
// @Router /v1/sessions/{id}/withdrawals [post]
func (h *CashbookHandler) Withdrawal(c *gin.Context) {
	record(c, func(id uint, req dto.WithdrawalRequest) (*dto.WithdrawalResponse, error) {
		return h.svc.RecordWithdrawal(c.Request.Context(), middleware.GetActor(c), id, req)
	})
}

// CardVoucher godoc
// @Summary Registra un lote de vouchers de tarjeta
// @Tags caja
// @Router /v1/sessions/{id}/card-vouchers [post]
func (h *CashbookHandler) CardVoucher(c *gin.Context) {
	record(c, func(id uint, req dto.CardVoucherRequest) (*dto.CardVoucherResponse, error) {
		return h.svc.RecordCardVoucher(c.Request.Context(), middleware.GetActor(c), id, req)
	})
}

// AttendantPayments godoc
// @Summary Registra pagos a los bomberos del servicio
// @Tags caja
// @Router /v1/sessions/{id}/attendant-payments [post]
func (h *CashbookHandler) AttendantPayments(c *gin.Context) {
	record(c, func(id uint, req dto.AttendantPaymentsRequest) ([]dto.AttendantPaymentResponse, error) {
		return h.svc.RecordAttendantPayments(c.Request.Context(), middleware.GetActor(c), id, req)
	})
}

// Totals godoc
// @Summary Totales de caja de la sesion
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de sesion"
// @Success 200 {object} dto.SessionTotalsResponse
// @Router /v1/sessions/{id}/totals [get]
func (h *CashbookHandler) Totals(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Totals(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// MarkCreditSalePaid godoc
// @Summary Marca una venta a credito como pagada
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de la venta a credito"
// @Success 200 {object} dto.CreditSaleResponse
// @Router /v1/credit-sales/{id}/paid [post]
func (h *CashbookHandler) MarkCreditSalePaid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.MarkCreditSalePaid(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
