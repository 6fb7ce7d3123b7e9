package handler

import (
	"net/http"
	"strings"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	"github.com/frlabs/sitegate/internal/pkg/metrics"
	"github.com/frlabs/sitegate/internal/service"
	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	svc          *service.ChatService
	quota        *service.QuotaService
	maxBodyChars int
}

func NewChatHandler(svc *service.ChatService, maxBodyChars int) *ChatHandler {
	if maxBodyChars <= 0 {
		maxBodyChars = 8000
	}
	return &ChatHandler{svc: svc, maxBodyChars: maxBodyChars}
}

// WithQuota charges valid questions against the client's daily quota.
func (h *ChatHandler) WithQuota(q *service.QuotaService) *ChatHandler {
	h.quota = q
	return h
}

func (h *ChatHandler) Status(c *gin.Context) {
	writeJSON(c, http.StatusOK, model.StatusMessage{
		OK:      true,
		Message: `Endpoint chat attivo. Invia POST JSON con { "question": "..." }.`,
	})
}

func (h *ChatHandler) Ask(c *gin.Context) {
	if !h.svc.Available() {
		h.fail(c, apperrors.New(apperrors.ErrUnavailable, "Servizio chat non disponibile", nil))
		return
	}

	raw, err := readJSONBody(c, h.maxBodyChars)
	if err != nil {
		h.fail(c, err)
		return
	}

	req := model.ParseChatRequest(raw)
	if err := h.svc.ValidateQuestion(req.Question); err != nil {
		h.fail(c, err)
		return
	}

	if !h.allowQuestion(c) {
		metrics.RateLimited.WithLabelValues("daily_quota").Inc()
		h.fail(c, apperrors.New(apperrors.ErrRateLimited, "Limite giornaliero di domande raggiunto", nil))
		return
	}

	answer, err := h.svc.Ask(c.Request.Context(), req.Question)
	if err != nil {
		h.fail(c, err)
		return
	}

	metrics.ChatRequests.WithLabelValues("answered").Inc()
	writeJSON(c, http.StatusOK, model.ChatAnswer{OK: true, Answer: answer})
}

// allowQuestion lets the question through when the quota store fails.
func (h *ChatHandler) allowQuestion(c *gin.Context) bool {
	ip := c.ClientIP()
	ok, err := h.quota.Allow(c.Request.Context(), ip)
	if err != nil {
		logger.LogError(c.Request.Context(), err, "quota check failed", "ip", ip)
	}
	return ok
}

func (h *ChatHandler) fail(c *gin.Context, err error) {
	appErr := apperrors.Wrap(err, "Errore interno endpoint chat")
	metrics.ChatRequests.WithLabelValues(strings.ToLower(string(appErr.Type))).Inc()
	c.Error(appErr)
}
