package handler

import (
	"errors"
	"io"
	"net/http"

	"bencidata/internal/middleware"
	"bencidata/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// maxDeviceBody caps what a controller may post.
const maxDeviceBody = 16 << 10

type IoTHandler struct{ svc service.DispenseService }

func NewIoTHandler(svc service.DispenseService) *IoTHandler { return &IoTHandler{svc: svc} }

// Proxy godoc
// @Summary Recibe un evento de despacho desde un controlador de surtidor
// @Tags iot
// @Accept json
// @Produce json
// @Param body body object true "uid, litros, pico (opcional), timestamp (opcional)"
// @Success 200 {object} dto.DispenseAck
// @Failure 400 {string} string "texto plano"
// @Router /api/iot/proxy/ [post]
func (h *IoTHandler) Proxy(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDeviceBody))
	if err != nil {
		plainText(c, "No se pudo leer el cuerpo")
		return
	}

	payload, err := service.ParseDispensePayload(body)
	if err != nil {
		var mp *service.ErrMalformedPayload
		if errors.As(err, &mp) {
			plainText(c, mp.Msg)
			return
		}
		plainText(c, "JSON invalido")
		return
	}

	ack, err := h.svc.Ingest(c.Request.Context(), payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("uid", payload.UID).
			Msg("dispense event not stored")
		plainText(c, "No se pudo registrar el despacho")
		return
	}
	c.JSON(http.StatusOK, ack)
}

func plainText(c *gin.Context, msg string) {
	c.Data(http.StatusBadRequest, "text/plain; charset=utf-8", []byte(msg))
}
