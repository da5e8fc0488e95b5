package models

import (
	"time"
)

type Publisher struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:30;not null;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Author struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:50;not null;uniqueIndex;default:'ANONYMOUS'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Book struct {
	ID          uint   `gorm:"primaryKey"`
	ISBN10      string `gorm:"column:isbn10;size:10;not null;uniqueIndex;index:idx_book_identity,unique"`
	ISBN13      string `gorm:"column:isbn13;size:13;not null;uniqueIndex;index:idx_book_identity,unique"`
	Title       string `gorm:"size:50;not null;index:idx_book_identity,unique"`
	Pages       int    `gorm:"not null;default:0"`
	PublisherID uint   `gorm:"not null;index:idx_book_identity,unique"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Publisher Publisher `gorm:"foreignKey:PublisherID"`
}

type BookAuthor struct {
	ID       uint `gorm:"primaryKey"`
	AuthorID uint `gorm:"not null;index:idx_book_author,unique"`
	BookID   uint `gorm:"not null;index:idx_book_author,unique"`

	Author Author `gorm:"foreignKey:AuthorID"`
	Book   Book   `gorm:"foreignKey:BookID"`
}

type Borrower struct {
	ID           uint   `gorm:"primaryKey"`
	CardNum      int    `gorm:"not null;uniqueIndex"`
	SSN          string `gorm:"column:ssn;size:9;not null;index:idx_borrower_identity,unique"`
	FirstName    string `gorm:"size:30"`
	LastName     string `gorm:"size:30"`
	Email        string `gorm:"size:80"`
	Address      string
	City         string `gorm:"size:20"`
	State        string `gorm:"size:2"`
	Phone        string `gorm:"size:20;not null;uniqueIndex;index:idx_borrower_identity,unique"`
	PasswordHash string `gorm:"not null"`
	IsAdmin      bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Loan references its book and borrower by bare id only: the catalog and
// borrower directory own those rows in their own databases, so a local
// association would migrate into a foreign key against an empty table.
type Loan struct {
	ID         uint   `gorm:"primaryKey"`
	LoanNum    string `gorm:"size:7;not null;uniqueIndex;index:idx_loan_identity,unique"`
	BookID     uint   `gorm:"not null;index:idx_loan_identity,unique"`
	BorrowerID uint   `gorm:"not null;index:idx_loan_identity,unique"`
	DateOut    time.Time
	DateDue    time.Time
	DateIn     *time.Time
	IsActive   bool `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Fine struct {
	ID        uint    `gorm:"primaryKey"`
	LoanID    uint    `gorm:"not null;uniqueIndex"`
	Amount    float64 `gorm:"not null;default:0"`
	Paid      bool    `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Loan Loan `gorm:"foreignKey:LoanID"`
}
