package handler

import (
	"net/http"

	"bencidata/internal/dto"
	"bencidata/internal/middleware"
	"bencidata/internal/service"

	"github.com/gin-gonic/gin"
)

type TopologyHandler struct {
	svc   service.TopologyService
	loads service.LoadService
}

func NewTopologyHandler(svc service.TopologyService, loads service.LoadService) *TopologyHandler {
	return &TopologyHandler{svc: svc, loads: loads}
}

// register binds req, then calls fn with the branch from the path and answers 201.
func register[Req any, Resp any](c *gin.Context, fn func(c *gin.Context, branchID uint, req Req) (Resp, error)) {
	branchID, ok := pathID(c, "branch_id")
	if !ok {
		return
	}
	var req Req
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := fn(c, branchID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// CreateTank godoc
// @Summary Registra un tanque de combustible
// @Tags topologia
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param branch_id path int true "Sucursal"
// @Param body body dto.CreateTankRequest true "Tanque"
// @Success 201 {object} dto.TankResponse
// @Router /v1/branches/{branch_id}/tanks [post]
func (h *TopologyHandler) CreateTank(c *gin.Context) {
	register(c, func(c *gin.Context, branchID uint, req dto.CreateTankRequest) (*dto.TankResponse, error) {
		return h.svc.RegisterTank(c.Request.Context(), middleware.GetActor(c), branchID, req)
	})
}

// CreateIsland godoc
// @Summary Registra una isla
// @Tags topologia
// @Router /v1/branches/{branch_id}/islands [post]
func (h *TopologyHandler) CreateIsland(c *gin.Context) {
	register(c, func(c *gin.Context, branchID uint, req dto.CreateIslandRequest) (*dto.IslandResponse, error) {
		return h.svc.RegisterIsland(c.Request.Context(), middleware.GetActor(c), branchID, req)
	})
}

// CreateMachine godoc
// @Summary Registra un surtidor y sus vinculos con tanques
// @Tags topologia
// @Router /v1/branches/{branch_id}/machines [post]
func (h *TopologyHandler) CreateMachine(c *gin.Context) {
	register(c, func(c *gin.Context, branchID uint, req dto.CreateMachineRequest) (*dto.MachineResponse, error) {
		return h.svc.RegisterMachine(c.Request.Context(), middleware.GetActor(c), branchID, req)
	})
}

// CreateNozzle godoc
// @Summary Registra un pico
// @Tags topologia
// @Router /v1/branches/{branch_id}/nozzles [post]
func (h *TopologyHandler) CreateNozzle(c *gin.Context) {
	register(c, func(c *gin.Context, branchID uint, req dto.CreateNozzleRequest) (*dto.NozzleResponse, error) {
		return h.svc.RegisterNozzle(c.Request.Context(), middleware.GetActor(c), branchID, req)
	})
}

// CreateShift godoc
// @Summary Registra un turno con su encargado y playeros
// @Tags topologia
// @Router /v1/branches/{branch_id}/shifts [post]
func (h *TopologyHandler) CreateShift(c *gin.Context) {
	register(c, func(c *gin.Context, branchID uint, req dto.CreateShiftRequest) (*dto.ShiftResponse, error) {
		return h.svc.RegisterShift(c.Request.Context(), middleware.GetActor(c), branchID, req)
	})
}

// CreateProduct godoc
// @Summary Registra un producto de la sucursal
// @Tags topologia
// @Router /v1/branches/{branch_id}/products [post]
func (h *TopologyHandler) CreateProduct(c *gin.Context) {
	register(c, func(c *gin.Context, branchID uint, req dto.CreateProductRequest) (*dto.ProductResponse, error) {
		return h.loads.RegisterProduct(c.Request.Context(), middleware.GetActor(c), branchID, req)
	})
}

// CreatePrice godoc
// @Summary Publica un nuevo precio por litro para un tipo de combustible
// @Tags topologia
// @Router /v1/branches/{branch_id}/prices [post]
func (h *TopologyHandler) CreatePrice(c *gin.Context) {
	register(c, func(c *gin.Context, branchID uint, req dto.CreatePriceRequest) (*dto.PriceResponse, error) {
		return h.loads.RegisterPrice(c.Request.Context(), middleware.GetActor(c), branchID, req)
	})
}

// Get godoc
// @Summary Topologia completa de la sucursal
// @Tags topologia
// @Produce json
// @Security BearerAuth
// @Param branch_id path int true "Sucursal"
// @Success 200 {object} dto.TopologyResponse
// @Router /v1/branches/{branch_id}/topology [get]
func (h *TopologyHandler) Get(c *gin.Context) {
	branchID, ok := pathID(c, "branch_id")
	if !ok {
		return
	}
	resp, err := h.svc.GetBranchTopology(c.Request.Context(), middleware.GetActor(c), branchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
