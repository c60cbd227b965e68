package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// handleGatewayWebhook ingests asynchronous payment events. Malformed,
// unknown and irrelevant events are acknowledged and dropped so the gateway
// stops retrying; only real processing failures return 5xx.
func (s *Server) handleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	err = s.webhooks.IngestWebhook(c.Request.Context(), payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrEventIgnored),
		errors.Is(err, paymentdomain.ErrPaymentNotFound):
		s.log.Warn("webhook dropped", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	default:
		s.log.Error("webhook processing failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal")
	}
}

// handleBotWebhook receives chat updates. The URL token must match the bot
// token, which is the standard way to authenticate this endpoint.
func (s *Server) handleBotWebhook(c *gin.Context) {
	token := c.Param("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Telegram.Token)) != 1 {
		respondError(c, http.StatusNotFound, "not_found")
		return
	}

	var upd telegram.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		s.log.Warn("bot update dropped", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := s.bot.HandleUpdate(c.Request.Context(), &upd); err != nil {
		// The user already got an in-chat reply where possible; always ack so
		// the platform does not redeliver.
		s.log.Error("bot update failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
