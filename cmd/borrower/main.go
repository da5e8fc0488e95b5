package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"library-backoffice/pkg/database"
	"library-backoffice/pkg/models"
)

var (
	db        *gorm.DB
	jwtSecret = []byte("a3f1c2e4b5d60718293a4b5c6d7e8f90a3f1c2e4b5d60718293a4b5c6d7e8f90")
)

func main() {
	log.Println("Starting borrower service...")

	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		jwtSecret = []byte(secret)
	}

	db = database.InitBorrowerDB()
	seedTestData()

	server := gin.Default()
	server.POST("/api/v1/borrowers", registerBorrower)
	server.POST("/api/v1/auth/login", login)
	server.GET("/api/v1/borrowers/card/:cardNum", getBorrower)
	server.GET("/api/v1/borrowers/id/:id", getBorrowerByID)
	server.GET("/manage/health", healthCheck)

	log.Println("Borrower service starting on :8050")
	if err := server.Run(":8050"); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func registerBorrower(c *gin.Context) {
	var request struct {
		FirstName string `json:"firstName" binding:"required"`
		LastName  string `json:"lastName" binding:"required"`
		Email     string `json:"email" binding:"required,email"`
		SSN       string `json:"ssn" binding:"required,len=9"`
		Address   string `json:"address"`
		City      string `json:"city"`
		State     string `json:"state"`
		Phone     string `json:"phone" binding:"required"`
		Password  string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	var borrower models.Borrower
	for attempt := 0; attempt < 3; attempt++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			var maxCard int
			row := tx.Model(&models.Borrower{}).Select("COALESCE(MAX(card_num), 100000)").Row()
			if err := row.Scan(&maxCard); err != nil {
				return err
			}

			borrower = models.Borrower{
				CardNum:      maxCard + 1,
				SSN:          request.SSN,
				FirstName:    request.FirstName,
				LastName:     request.LastName,
				Email:        request.Email,
				Address:      request.Address,
				City:         request.City,
				State:        request.State,
				Phone:        request.Phone,
				PasswordHash: string(hash),
			}
			return tx.Create(&borrower).Error
		})
		if err == nil || !isCardNumCollision(err) {
			break
		}
		// Another registration grabbed the same card number; allocate again.
	}
	if err != nil {
		if isCardNumCollision(err) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to allocate a card number"})
			return
		}
		if isDuplicateKey(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Borrower already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register borrower"})
		return
	}

	c.JSON(http.StatusCreated, borrowerResponse(&borrower))
}

// isDuplicateKey reports whether the store rejected a duplicate unique key.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// isCardNumCollision reports whether a duplicate-key error is on the card
// number column: a lost allocation race rather than an already-registered
// borrower.
func isCardNumCollision(err error) bool {
	return isDuplicateKey(err) && strings.Contains(err.Error(), "card_num")
}

func login(c *gin.Context) {
	var request struct {
		CardNum  int    `json:"cardNum" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	var borrower models.Borrower
	if err := db.Where("card_num = ?", request.CardNum).First(&borrower).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid card number or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(borrower.PasswordHash), []byte(request.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid card number or password"})
		return
	}

	token, err := generateToken(&borrower)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"cardNum":   borrower.CardNum,
		"expiresIn": 36000,
	})
}

func generateToken(borrower *models.Borrower) (string, error) {
	claims := jwt.MapClaims{
		"sub":     strconv.Itoa(int(borrower.ID)),
		"cardNum": borrower.CardNum,
		"admin":   borrower.IsAdmin,
		"exp":     time.Now().Add(10 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func getBorrower(c *gin.Context) {
	cardNum, err := strconv.Atoi(c.Param("cardNum"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card number"})
		return
	}

	var borrower models.Borrower
	if err := db.Where("card_num = ?", cardNum).First(&borrower).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Borrower not found"})
		return
	}

	c.JSON(http.StatusOK, borrowerResponse(&borrower))
}

func getBorrowerByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid borrower id"})
		return
	}

	var borrower models.Borrower
	if err := db.First(&borrower, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Borrower not found"})
		return
	}

	c.JSON(http.StatusOK, borrowerResponse(&borrower))
}

func borrowerResponse(borrower *models.Borrower) gin.H {
	return gin.H{
		"id":          borrower.ID,
		"cardNum":     borrower.CardNum,
		"cardDisplay": cardDisplay(borrower.CardNum),
		"firstName":   borrower.FirstName,
		"lastName":    borrower.LastName,
		"email":       borrower.Email,
		"admin":       borrower.IsAdmin,
	}
}

// cardDisplay renders a card number as the zero-padded library ID printed
// on the physical card, e.g. ID001234.
func cardDisplay(cardNum int) string {
	num := strconv.Itoa(cardNum)
	padding := 6 - len(num)
	if padding < 0 {
		padding = 0
	}
	return "ID" + strings.Repeat("0", padding) + num
}

func seedTestData() {
	seeds := []struct {
		cardNum  int
		ssn      string
		first    string
		last     string
		email    string
		phone    string
		password string
		admin    bool
	}{
		{100001, "123456789", "Ada", "Lovelace", "ada@example.com", "+15550000001", "engine@1842", false},
		{100002, "987654321", "Grace", "Hopper", "grace@example.com", "+15550000002", "cobol@1959", false},
		{100100, "555443333", "Head", "Librarian", "admin@example.com", "+15550000100", "stacks@root", true},
	}

	for _, seed := range seeds {
		var existing models.Borrower
		if err := db.Where("card_num = ?", seed.cardNum).First(&existing).Error; err == nil {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Failed to hash seed password: %v", err)
			continue
		}
		borrower := models.Borrower{
			CardNum:      seed.cardNum,
			SSN:          seed.ssn,
			FirstName:    seed.first,
			LastName:     seed.last,
			Email:        seed.email,
			Phone:        seed.phone,
			PasswordHash: string(hash),
			IsAdmin:      seed.admin,
		}
		if err := db.Create(&borrower).Error; err != nil {
			log.Printf("Failed to create borrower %s: %v", seed.email, err)
		}
	}
	log.Println("Borrower test data seeded")
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
		"details": "Host localhost:8050 is active",
	})
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
