package main

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"library-backoffice/pkg/database"
	"library-backoffice/pkg/models"
)

var db *gorm.DB

func main() {
	log.Println("Starting catalog service...")

	db = database.InitCatalogDB()
	seedTestData()

	server := gin.Default()
	server.GET("/api/v1/books", getBooks)
	server.GET("/api/v1/books/isbn/:isbn13", getBook)
	server.GET("/api/v1/books/id/:id", getBookByID)
	server.POST("/api/v1/books", createBook)
	server.GET("/api/v1/authors", getAuthors)
	server.GET("/api/v1/publishers", getPublishers)
	server.GET("/manage/health", healthCheck)

	log.Println("Catalog service starting on :8060")
	if err := server.Run(":8060"); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func getBooks(c *gin.Context) {
	search := c.Query("search")
	pageStr := c.DefaultQuery("page", "1")
	sizeStr := c.DefaultQuery("size", "10")

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 1 || size > 100 {
		size = 10
	}

	query := db.Model(&models.Book{}).Preload("Publisher")
	if search != "" {
		like := "%" + search + "%"
		authorBooks := db.Model(&models.BookAuthor{}).
			Select("book_authors.book_id").
			Joins("JOIN authors ON authors.id = book_authors.author_id").
			Where("authors.name LIKE ?", like)
		query = query.
			Joins("LEFT JOIN publishers ON publishers.id = books.publisher_id").
			Where("books.isbn10 = ? OR books.isbn13 = ? OR books.title LIKE ? OR publishers.name LIKE ? OR books.id IN (?)",
				search, search, like, like, authorBooks)
	}

	var totalelem int64
	query.Count(&totalelem)

	var books []models.Book
	offset := (page - 1) * size
	err = query.Offset(offset).Limit(size).Find(&books).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]gin.H, len(books))
	for i, book := range books {
		items[i] = bookResponse(&book)
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page,
		"pageSize":      size,
		"totalElements": totalelem,
		"items":         items,
	})
}

func getBook(c *gin.Context) {
	isbn13 := c.Param("isbn13")

	var book models.Book
	if err := db.Preload("Publisher").Where("isbn13 = ?", isbn13).First(&book).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}

	c.JSON(http.StatusOK, bookResponse(&book))
}

func getBookByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	var book models.Book
	if err := db.Preload("Publisher").First(&book, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}

	c.JSON(http.StatusOK, bookResponse(&book))
}

func createBook(c *gin.Context) {
	var request struct {
		ISBN10    string   `json:"isbn10" binding:"required,len=10"`
		ISBN13    string   `json:"isbn13" binding:"required,len=13"`
		Title     string   `json:"title" binding:"required"`
		Pages     int      `json:"pages"`
		Publisher string   `json:"publisher" binding:"required"`
		Authors   []string `json:"authors"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	var book models.Book
	err := db.Transaction(func(tx *gorm.DB) error {
		var publisher models.Publisher
		if err := tx.Where(models.Publisher{Name: request.Publisher}).
			FirstOrCreate(&publisher).Error; err != nil {
			return err
		}

		book = models.Book{
			ISBN10:      request.ISBN10,
			ISBN13:      request.ISBN13,
			Title:       request.Title,
			Pages:       request.Pages,
			PublisherID: publisher.ID,
		}
		if err := tx.Create(&book).Error; err != nil {
			return err
		}
		book.Publisher = publisher

		names := request.Authors
		if len(names) == 0 {
			names = []string{"ANONYMOUS"}
		}
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				name = "ANONYMOUS"
			}
			var author models.Author
			if err := tx.Where(models.Author{Name: name}).FirstOrCreate(&author).Error; err != nil {
				return err
			}
			link := models.BookAuthor{AuthorID: author.ID, BookID: book.ID}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "duplicate key value") {
			c.JSON(http.StatusConflict, gin.H{"error": "Book already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create book"})
		return
	}

	c.JSON(http.StatusCreated, bookResponse(&book))
}

func getAuthors(c *gin.Context) {
	var authors []models.Author
	if err := db.Order("name").Find(&authors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(authors))
	for i, author := range authors {
		items[i] = gin.H{"id": author.ID, "name": author.Name}
	}
	c.JSON(http.StatusOK, items)
}

func getPublishers(c *gin.Context) {
	var publishers []models.Publisher
	if err := db.Order("name").Find(&publishers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(publishers))
	for i, publisher := range publishers {
		items[i] = gin.H{"id": publisher.ID, "name": publisher.Name}
	}
	c.JSON(http.StatusOK, items)
}

func bookResponse(book *models.Book) gin.H {
	return gin.H{
		"id":        book.ID,
		"isbn10":    book.ISBN10,
		"isbn13":    book.ISBN13,
		"title":     book.Title,
		"pages":     book.Pages,
		"publisher": book.Publisher.Name,
		"authors":   bookAuthors(book.ID),
	}
}

func bookAuthors(bookID uint) []string {
	var links []models.BookAuthor
	if err := db.Preload("Author").Where("book_id = ?", bookID).Find(&links).Error; err != nil {
		return nil
	}
	names := make([]string, len(links))
	for i, link := range links {
		names[i] = link.Author.Name
	}
	return names
}

func seedTestData() {
	books := []struct {
		isbn10    string
		isbn13    string
		title     string
		pages     int
		publisher string
		authors   []string
	}{
		{"0131103628", "9780131103627", "The C Programming Language", 272, "Prentice Hall", []string{"Brian Kernighan", "Dennis Ritchie"}},
		{"0201633612", "9780201633610", "Design Patterns", 395, "Addison-Wesley", []string{"Erich Gamma", "Richard Helm", "Ralph Johnson", "John Vlissides"}},
		{"0262033844", "9780262033848", "Introduction to Algorithms", 1312, "MIT Press", []string{"Thomas Cormen", "Charles Leiserson", "Ronald Rivest", "Clifford Stein"}},
	}

	for _, seed := range books {
		var existing models.Book
		if err := db.Where("isbn13 = ?", seed.isbn13).First(&existing).Error; err == nil {
			continue
		}

		var publisher models.Publisher
		db.Where(models.Publisher{Name: seed.publisher}).FirstOrCreate(&publisher)

		book := models.Book{
			ISBN10:      seed.isbn10,
			ISBN13:      seed.isbn13,
			Title:       seed.title,
			Pages:       seed.pages,
			PublisherID: publisher.ID,
		}
		if err := db.Create(&book).Error; err != nil {
			log.Printf("Failed to create book %s: %v", seed.title, err)
			continue
		}
		for _, name := range seed.authors {
			var author models.Author
			db.Where(models.Author{Name: name}).FirstOrCreate(&author)
			db.Create(&models.BookAuthor{AuthorID: author.ID, BookID: book.ID})
		}
	}
	log.Println("Catalog test data seeded")
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
		"details": "Host localhost:8060 is active",
	})
}
