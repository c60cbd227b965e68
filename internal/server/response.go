package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
)

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func respondError(c *gin.Context, status int, code string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code}})
}

// abortWithError maps domain errors onto transport status codes.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accountdomain.ErrStudentNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound):
		respondError(c, http.StatusNotFound, "not_found")
	case errors.Is(err, ledgerdomain.ErrPeriodAlreadySettled):
		respondError(c, http.StatusConflict, "period_already_settled")
	case errors.Is(err, ledgerdomain.ErrInvalidPeriod),
		errors.Is(err, accountdomain.ErrInvalidAmount):
		respondError(c, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		respondError(c, http.StatusBadGateway, "gateway_unavailable")
	default:
		respondError(c, http.StatusInternalServerError, "internal")
	}
	c.Abort()
}
