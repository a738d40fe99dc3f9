package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"bencidata/internal/apierror"
	"bencidata/internal/dto"
	"bencidata/internal/middleware"
	"bencidata/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// startPath is where browser closes land after a successful submit.
const startPath = "/v1/sessions/start"

// maxFormRows bounds form-TOTAL_FORMS.
const maxFormRows = 500

type SessionsHandler struct{ svc service.SessionService }

func NewSessionsHandler(svc service.SessionService) *SessionsHandler {
	return &SessionsHandler{svc: svc}
}

func queryBranchID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Query("branch_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, apierror.New("branch_id requerido"))
		return 0, false
	}
	return uint(id), true
}

// Start godoc
// @Summary Vista de inicio: turnos disponibles y sesion activa de la sucursal
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param branch_id query int true "Sucursal"
// @Success 200 {object} dto.StartViewResponse
// @Router /v1/sessions/start [get]
func (h *SessionsHandler) Start(c *gin.Context) {
	branchID, ok := queryBranchID(c)
	if !ok {
		return
	}
	resp, err := h.svc.StartView(c.Request.Context(), middleware.GetActor(c), branchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Open godoc
// @Summary Abre una sesion de servicio para un turno
// @Tags sesiones
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenSessionRequest true "Turno, playeros y fondos iniciales"
// @Success 201 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/sessions [post]
func (h *SessionsHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Open(c.Request.Context(), middleware.GetActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Get godoc
// @Summary Detalle de una sesion de servicio
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de sesion"
// @Success 200 {object} dto.SessionResponse
// @Router /v1/sessions/{id} [get]
func (h *SessionsHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// List godoc
// @Summary Lista las sesiones de una sucursal, mas recientes primero
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param branch_id query int true "Sucursal"
// @Param limit query int false "Maximo de resultados (default 50)"
// @Success 200 {array} dto.SessionResponse
// @Router /v1/sessions [get]
func (h *SessionsHandler) List(c *gin.Context) {
	branchID, ok := queryBranchID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	resp, err := h.svc.List(c.Request.Context(), middleware.GetActor(c), branchID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Close godoc
// @Summary Cierra la sesion con los numerales finales, o solo la verifica
// @Tags sesiones
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de sesion"
// @Param body body dto.CloseSessionRequest true "Accion y numerales finales"
// @Success 200 {object} dto.CloseSessionResponse
// @Success 303 "Formulario: redireccion a la vista de inicio"
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/sessions/{id}/close [post]
func (h *SessionsHandler) Close(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	form := middleware.IsFormPost(c)
	var req dto.CloseSessionRequest
	if form {
		parsed, fields := parseCloseForm(c)
		if len(fields) > 0 {
			c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
			return
		}
		req = parsed
		if !validateStruct(c, &req) {
			return
		}
	} else if !bindAndValidate(c, &req) {
		return
	}

	resp, err := h.svc.Close(c.Request.Context(), middleware.GetActor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	if form && resp.Committed {
		c.Redirect(http.StatusSeeOther, startPath+"?branch_id="+strconv.FormatUint(uint64(h.branchOf(c, id)), 10))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// branchOf looks up the session branch for the post-close redirect. A failure
// only drops the query string.
func (h *SessionsHandler) branchOf(c *gin.Context, id uint) uint {
	s, err := h.svc.Get(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		return 0
	}
	return s.BranchID
}

// parseCloseForm reads the management formset: form-TOTAL_FORMS rows of
// machine_id, fuel_inventory_id and numeral, plus close_action.
func parseCloseForm(c *gin.Context) (dto.CloseSessionRequest, map[string]string) {
	fields := map[string]string{}
	req := dto.CloseSessionRequest{Action: c.PostForm("close_action")}

	total, err := strconv.Atoi(c.PostForm("form-TOTAL_FORMS"))
	if err != nil || total < 0 || total > maxFormRows {
		fields["form-TOTAL_FORMS"] = "invalido"
		return req, fields
	}

	for i := 0; i < total; i++ {
		prefix := fmt.Sprintf("form-%d-", i)
		machineID, err := strconv.ParseUint(c.PostForm(prefix+"machine_id"), 10, 64)
		if err != nil || machineID == 0 {
			fields[prefix+"machine_id"] = "invalido"
		}
		tankID, err := strconv.ParseUint(c.PostForm(prefix+"fuel_inventory_id"), 10, 64)
		if err != nil || tankID == 0 {
			fields[prefix+"fuel_inventory_id"] = "invalido"
		}
		numeral, err := decimal.NewFromString(c.PostForm(prefix + "numeral"))
		if err != nil {
			fields[prefix+"numeral"] = "invalido"
		}
		if len(fields) > 0 {
			continue
		}
		req.Numerals = append(req.Numerals, dto.NumeralInput{
			MachineID:       uint(machineID),
			FuelInventoryID: uint(tankID),
			Numeral:         numeral,
		})
	}
	return req, fields
}

// Reconciliation godoc
// @Summary Reporte de auditoria: numerales contra litros despachados
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID de sesion"
// @Success 200 {object} dto.ReconciliationReport
// @Router /v1/sessions/{id}/reconciliation [get]
func (h *SessionsHandler) Reconciliation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Report(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
