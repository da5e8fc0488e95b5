package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"library-backoffice/pkg/clients"
	"library-backoffice/pkg/database"
	"library-backoffice/pkg/loans"
	"library-backoffice/pkg/models"
)

var (
	db     *gorm.DB
	engine *loans.Engine
)

func main() {
	log.Println("Starting loan service...")

	catalogServiceURL := getEnv("CATALOG_SERVICE_URL", "http://localhost:8060")
	borrowerServiceURL := getEnv("BORROWER_SERVICE_URL", "http://localhost:8050")

	db = database.InitLoanDB()
	engine = loans.NewEngine(db,
		clients.NewCatalogClient(catalogServiceURL),
		clients.NewBorrowerClient(borrowerServiceURL))

	server := gin.Default()
	server.POST("/api/v1/loans", createLoan)
	server.GET("/api/v1/loans", getLoans)
	server.GET("/api/v1/loans/:loanNum", getLoan)
	server.POST("/api/v1/loans/:loanNum/return", returnLoan)
	server.PATCH("/api/v1/loans/:loanNum/due-date", changeDueDate)
	server.GET("/api/v1/loans/:loanNum/fine", getFine)
	server.POST("/api/v1/loans/:loanNum/fine/settle", settleFine)
	server.GET("/api/v1/fines", getFines)
	server.GET("/manage/health", healthCheck)

	log.Println("Loan service starting on :8070")
	if err := server.Run(":8070"); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// actorFromHeaders reads the identity headers stamped by the gateway after
// token validation.
func actorFromHeaders(c *gin.Context) (loans.Actor, bool) {
	idStr := c.GetHeader("X-Borrower-Id")
	if idStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Borrower-Id header is required"})
		return loans.Actor{}, false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid X-Borrower-Id header"})
		return loans.Actor{}, false
	}
	return loans.Actor{
		BorrowerID: uint(id),
		Admin:      c.GetHeader("X-Borrower-Admin") == "true",
	}, true
}

func createLoan(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	var request struct {
		BookID     uint   `json:"bookId" binding:"required"`
		BorrowerID uint   `json:"borrowerId" binding:"required"`
		DateDue    string `json:"dateDue"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	var requestedDue *time.Time
	if request.DateDue != "" {
		due, err := time.Parse("2006-01-02", request.DateDue)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format"})
			return
		}
		requestedDue = &due
	}

	loan, err := engine.CreateLoan(request.BookID, request.BorrowerID, requestedDue, actor)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loanResponse(loan))
}

func getLoans(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	list, err := engine.ListLoans(actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(list))
	for i := range list {
		items[i] = loanResponse(&list[i])
	}
	c.JSON(http.StatusOK, items)
}

func getLoan(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	loan, err := engine.GetLoan(c.Param("loanNum"), actor)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, loanResponse(loan))
}

func returnLoan(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	loan, err := engine.ReturnLoan(c.Param("loanNum"), actor)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, loanResponse(loan))
}

func changeDueDate(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	var request struct {
		DateDue string `json:"dateDue" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}
	due, err := time.Parse("2006-01-02", request.DateDue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format"})
		return
	}

	loan, err := engine.ChangeDueDate(c.Param("loanNum"), due, actor)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, loanResponse(loan))
}

func getFine(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	fine, err := engine.GetFine(c.Param("loanNum"), actor)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, fineResponse(fine, c.Param("loanNum")))
}

func settleFine(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	var request struct {
		Paid bool `json:"paid"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	fine, loan, err := engine.SettleFine(c.Param("loanNum"), request.Paid, actor)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fine": fineResponse(fine, loan.LoanNum),
		"loan": loanResponse(loan),
	})
}

func getFines(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		return
	}

	list, err := engine.ListFines(actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(list))
	for i := range list {
		items[i] = fineResponse(&list[i], list[i].Loan.LoanNum)
	}
	c.JSON(http.StatusOK, items)
}

func writeEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, loans.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, loans.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, loans.ErrBookUnavailable),
		errors.Is(err, loans.ErrBorrowLimitExceeded),
		errors.Is(err, loans.ErrUniquenessViolation),
		errors.Is(err, loans.ErrLoanClosed):
		status = http.StatusConflict
	default:
		var verr *loans.ValidationError
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
		}
	}

	var verr *loans.ValidationError
	if errors.As(err, &verr) {
		c.JSON(status, gin.H{"error": verr.Err.Error(), "field": verr.Field})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func loanResponse(loan *models.Loan) gin.H {
	var dateIn interface{}
	if loan.DateIn != nil {
		dateIn = loan.DateIn.Format("2006-01-02")
	}
	return gin.H{
		"loanNum":    loan.LoanNum,
		"bookId":     loan.BookID,
		"borrowerId": loan.BorrowerID,
		"dateOut":    loan.DateOut.Format("2006-01-02"),
		"dateDue":    loan.DateDue.Format("2006-01-02"),
		"dateIn":     dateIn,
		"isActive":   loan.IsActive,
	}
}

func fineResponse(fine *models.Fine, loanNum string) gin.H {
	return gin.H{
		"loanNum": loanNum,
		"amount":  fine.Amount,
		"paid":    fine.Paid,
	}
}

func healthCheck(ctx *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Host localhost:8070 is active",
	})
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
