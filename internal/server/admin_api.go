package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"github.com/tutorstack/tutorcrm/internal/pricing"
	"go.uber.org/zap"
)

func (s *Server) listStudents(c *gin.Context) {
	students, err := s.accounts.ListAllStudents(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondData(c, students)
}

// listStudentPayments returns one student's gateway charge trail, settled and
// canceled ones included.
func (s *Server) listStudentPayments(c *gin.Context) {
	studentID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	if _, err := s.accounts.GetStudent(c.Request.Context(), studentID); err != nil {
		abortWithError(c, err)
		return
	}
	payments, err := s.payments.ListByStudent(c.Request.Context(), studentID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondData(c, payments)
}

// listPaymentYears feeds the dashboard's year picker.
func (s *Server) listPaymentYears(c *gin.Context) {
	years, err := s.ledger.Years(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondData(c, gin.H{"years": years})
}

type matrixRow struct {
	StudentID snowflake.ID `json:"student_id"`
	Name      string       `json:"name"`
	GradeKey  string       `json:"grade_key"`
	Paid      bool         `json:"paid"`
	Amount    int64        `json:"amount,omitempty"`
	Channel   string       `json:"channel,omitempty"`
}

// paymentMatrix reports who paid for a period and who did not, plus the
// period's total income.
func (s *Server) paymentMatrix(c *gin.Context) {
	month, year, ok := periodQuery(c)
	if !ok {
		return
	}

	students, err := s.accounts.ListAllStudents(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	entries, err := s.ledger.ListByPeriod(c.Request.Context(), month, year)
	if err != nil {
		abortWithError(c, err)
		return
	}

	byStudent := make(map[snowflake.ID]ledgerdomain.LedgerEntry, len(entries))
	var total int64
	for _, e := range entries {
		byStudent[e.StudentID] = e
		total += e.AmountPaid
	}

	rows := make([]matrixRow, 0, len(students))
	for _, st := range students {
		row := matrixRow{StudentID: st.ID, Name: st.Name, GradeKey: st.GradeKey}
		if e, ok := byStudent[st.ID]; ok {
			row.Paid = true
			row.Amount = e.AmountPaid
			row.Channel = e.Channel
		}
		rows = append(rows, row)
	}

	respondData(c, gin.H{
		"month":        month,
		"year":         year,
		"students":     rows,
		"total_income": total,
	})
}

func (s *Server) listPendingPayments(c *gin.Context) {
	pending, err := s.payments.ListInFlight(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondData(c, pending)
}

type cashPaymentRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Month     int    `json:"month" binding:"required"`
	Year      int    `json:"year" binding:"required"`
}

// markCashPayment settles a period paid out of band. The amount always comes
// from the student's tariff, never from the request.
func (s *Server) markCashPayment(c *gin.Context) {
	var req cashPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	studentID, err := snowflake.ParseString(req.StudentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	student, err := s.accounts.GetStudent(c.Request.Context(), studentID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	tariff, err := pricing.Resolve(student.GradeKey)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "tariff_not_found")
		return
	}

	entry, err := s.ledger.RecordSettlement(c.Request.Context(), nil, ledgerdomain.SettlementInput{
		StudentID:   student.ID,
		Month:       req.Month,
		Year:        req.Year,
		Amount:      tariff.Price,
		TariffLabel: tariff.Name,
		Channel:     ledgerdomain.ChannelCash,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	s.log.Info("cash payment recorded via api",
		zap.Int64("student_id", int64(student.ID)),
		zap.Int("month", entry.Month),
		zap.Int("year", entry.Year))
	respondData(c, entry)
}

type creditBalanceRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
}

func (s *Server) creditBalance(c *gin.Context) {
	var req creditBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	studentID, err := snowflake.ParseString(req.StudentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	student, err := s.accounts.CreditBalance(c.Request.Context(), studentID, req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondData(c, student)
}

func (s *Server) runSweep(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"
	report, err := s.sweeper.Sweep(c.Request.Context(), dryRun)
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondData(c, gin.H{"dry_run": dryRun, "report": report})
}

func periodQuery(c *gin.Context) (int, int, bool) {
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		respondError(c, http.StatusBadRequest, "invalid_period")
		return 0, 0, false
	}
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < 2000 || year > 2100 {
		respondError(c, http.StatusBadRequest, "invalid_period")
		return 0, 0, false
	}
	return month, year, true
}
