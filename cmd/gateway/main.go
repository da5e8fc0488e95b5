package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/cors"

	"library-backoffice/pkg/circuitbreaker"
)

var (
	catalogServiceURL  string
	borrowerServiceURL string
	loanServiceURL     string
	httpClient         *http.Client
	catalogBreaker     *circuitbreaker.Breaker
	jwtSecret          = []byte("a3f1c2e4b5d60718293a4b5c6d7e8f90a3f1c2e4b5d60718293a4b5c6d7e8f90")
)

func main() {
	catalogServiceURL = getEnv("CATALOG_SERVICE_URL", "http://localhost:8060")
	borrowerServiceURL = getEnv("BORROWER_SERVICE_URL", "http://localhost:8050")
	loanServiceURL = getEnv("LOAN_SERVICE_URL", "http://localhost:8070")
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		jwtSecret = []byte(secret)
	}

	httpClient = &http.Client{
		Timeout: 10 * time.Second,
	}
	catalogBreaker = circuitbreaker.New(5, 30*time.Second)

	r := gin.Default()

	r.POST("/api/v1/auth/login", loginHandler)
	r.POST("/api/v1/borrowers", registerHandler)
	r.GET("/api/v1/books", getBooksHandler)
	r.GET("/api/v1/books/:isbn13", getBookHandler)

	authorized := r.Group("/", authMiddleware)
	authorized.POST("/api/v1/loans", createLoanHandler)
	authorized.GET("/api/v1/loans", getLoansHandler)
	authorized.GET("/api/v1/loans/:loanNum", proxyLoanHandler)
	authorized.POST("/api/v1/loans/:loanNum/return", proxyLoanHandler)
	authorized.PATCH("/api/v1/loans/:loanNum/due-date", proxyLoanHandler)
	authorized.GET("/api/v1/loans/:loanNum/fine", proxyLoanHandler)
	authorized.POST("/api/v1/loans/:loanNum/fine/settle", proxyLoanHandler)
	authorized.GET("/api/v1/fines", proxyLoanHandler)

	r.GET("/manage/health", healthCheck)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	log.Println("Gateway service starting on port 8080")
	log.Fatal(http.ListenAndServe(":8080", handler))
}

// authMiddleware validates the bearer token and stamps the identity headers
// the downstream services trust.
func authMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
		return
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
		return
	}
	sub, _ := claims["sub"].(string)
	admin, _ := claims["admin"].(bool)
	if sub == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
		return
	}

	c.Set("borrowerID", sub)
	c.Set("admin", admin)
	c.Next()
}

func identityHeaders(c *gin.Context, request *http.Request) {
	request.Header.Set("X-Borrower-Id", c.GetString("borrowerID"))
	if c.GetBool("admin") {
		request.Header.Set("X-Borrower-Admin", "true")
	}
}

func loginHandler(c *gin.Context) {
	proxy(c, "POST", borrowerServiceURL+"/api/v1/auth/login", false)
}

func registerHandler(c *gin.Context) {
	proxy(c, "POST", borrowerServiceURL+"/api/v1/borrowers", false)
}

func getBooksHandler(c *gin.Context) {
	url := catalogServiceURL + "/api/v1/books"
	if params := c.Request.URL.Query().Encode(); params != "" {
		url += "?" + params
	}
	proxy(c, "GET", url, false)
}

func getBookHandler(c *gin.Context) {
	proxy(c, "GET", fmt.Sprintf("%s/api/v1/books/isbn/%s", catalogServiceURL, c.Param("isbn13")), false)
}

func createLoanHandler(c *gin.Context) {
	proxy(c, "POST", loanServiceURL+"/api/v1/loans", true)
}

func proxyLoanHandler(c *gin.Context) {
	proxy(c, c.Request.Method, loanServiceURL+c.Request.URL.Path, true)
}

func proxy(c *gin.Context, method, url string, authenticated bool) {
	var body io.Reader
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
			return
		}
		body = bytes.NewReader(data)
	}

	request, err := http.NewRequest(method, url, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		return
	}
	request.Header.Set("Content-Type", "application/json")
	if authenticated {
		identityHeaders(c, request)
	}

	response, err := httpClient.Do(request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to perform request"})
		return
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read the response"})
		return
	}
	c.Data(response.StatusCode, "application/json", data)
}

// getLoansHandler proxies the loan listing and enriches each row with book
// details from the catalog. Enrichment is read-only decoration, so a broken
// catalog degrades it to a bare listing instead of failing the request.
func getLoansHandler(c *gin.Context) {
	request, err := http.NewRequest("GET", loanServiceURL+"/api/v1/loans", nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		return
	}
	identityHeaders(c, request)

	response, err := httpClient.Do(request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to perform the request"})
		return
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(response.Body)
		c.Data(response.StatusCode, "application/json", body)
		return
	}

	var loans []map[string]interface{}
	if err := json.NewDecoder(response.Body).Decode(&loans); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decode the response"})
		return
	}

	enriched := make([]map[string]interface{}, len(loans))
	for i, loan := range loans {
		bookID, _ := loan["bookId"].(float64)
		loan["book"] = getBookInfo(int(bookID))
		enriched[i] = loan
	}
	c.JSON(http.StatusOK, enriched)
}

func getBookInfo(bookID int) map[string]interface{} {
	var book map[string]interface{}
	err := catalogBreaker.Execute(func() error {
		response, err := httpClient.Get(fmt.Sprintf("%s/api/v1/books/id/%d", catalogServiceURL, bookID))
		if err != nil {
			return err
		}
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			return fmt.Errorf("catalog returned status %d", response.StatusCode)
		}
		return json.NewDecoder(response.Body).Decode(&book)
	})
	if err != nil {
		return nil
	}
	return book
}

func healthCheck(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Host localhost:8080 is active",
	})
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
