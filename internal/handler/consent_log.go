package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/frlabs/sitegate/internal/service"
	"github.com/gin-gonic/gin"
)

type ConsentLogHandler struct {
	svc          *service.ConsentLogService
	maxBodyChars int
}

func NewConsentLogHandler(svc *service.ConsentLogService, maxBodyChars int) *ConsentLogHandler {
	if maxBodyChars <= 0 {
		maxBodyChars = 20000
	}
	return &ConsentLogHandler{svc: svc, maxBodyChars: maxBodyChars}
}

func (h *ConsentLogHandler) Status(c *gin.Context) {
	writeJSON(c, http.StatusOK, model.StatusMessage{
		OK:      true,
		Message: "Endpoint consenso attivo. Invia POST JSON per registrare il consenso.",
	})
}

func (h *ConsentLogHandler) Record(c *gin.Context) {
	raw, err := readJSONBody(c, h.maxBodyChars)
	if err != nil {
		c.Error(err)
		return
	}

	ev, err := model.ParseConsentLogEvent(raw)
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			c.Error(apperrors.NewValidation(vErr.Message))
			return
		}
		c.Error(apperrors.Wrap(err, "Errore interno endpoint consenso"))
		return
	}

	h.svc.Record(c.Request.Context(), ev, forwardedClientIP(c), c.GetHeader("User-Agent"))
	writeNoContent(c)
}

// forwardedClientIP takes the first X-Forwarded-For hop, the address the
// edge proxy saw.
func forwardedClientIP(c *gin.Context) string {
	xff := c.GetHeader("X-Forwarded-For")
	first, _, _ := strings.Cut(xff, ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	return "unknown"
}
