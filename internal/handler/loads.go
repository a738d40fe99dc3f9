package handler

import (
	"net/http"

	"bencidata/internal/dto"
	"bencidata/internal/middleware"
	"bencidata/internal/service"

	"github.com/gin-gonic/gin"
)

type LoadsHandler struct{ svc service.LoadService }

func NewLoadsHandler(svc service.LoadService) *LoadsHandler { return &LoadsHandler{svc: svc} }

// FuelLoad godoc
// @Summary Registra una descarga de combustible en un tanque
// @Tags cargas
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de sesion"
// @Param body body dto.FuelLoadRequest true "Tanque, litros y comprobante"
// @Success 201 {object} dto.FuelLoadResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/sessions/{id}/fuel-loads [post]
func (h *LoadsHandler) FuelLoad(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.FuelLoadRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RecordFuelLoad(c.Request.Context(), middleware.GetActor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ProductLoad godoc
// @Summary Registra un ingreso de mercaderia de la sucursal
// @Tags cargas
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de sesion"
// @Param body body dto.ProductLoadRequest true "Producto y cantidad"
// @Success 201 {object} dto.ProductLoadResponse
// @Router /v1/sessions/{id}/product-loads [post]
func (h *LoadsHandler) ProductLoad(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ProductLoadRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RecordProductLoad(c.Request.Context(), middleware.GetActor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
