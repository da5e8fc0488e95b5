package loans

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"library-backoffice/pkg/models"
)

// Actor identifies who is performing an operation. Admins see and touch
// everything; everyone else is scoped to their own loans and fines.
type Actor struct {
	BorrowerID uint
	Admin      bool
}

// BookInfo is the slice of catalog data the engine needs.
type BookInfo struct {
	ID     uint   `json:"id"`
	ISBN13 string `json:"isbn13"`
	Title  string `json:"title"`
}

// BorrowerInfo is the slice of directory data the engine needs.
type BorrowerInfo struct {
	ID      uint `json:"id"`
	CardNum int  `json:"cardNum"`
	Admin   bool `json:"admin"`
}

// CatalogService looks up reference data about books.
type CatalogService interface {
	GetBook(bookID uint) (*BookInfo, error)
}

// BorrowerDirectory looks up borrower identity and privilege.
type BorrowerDirectory interface {
	GetBorrower(borrowerID uint) (*BorrowerInfo, error)
}

// Engine enforces the loan lifecycle policy: creation limits, due dates,
// fine accrual and payment-driven closure. Loans and fines are never
// deleted; borrowing history is permanent.
type Engine struct {
	db        *gorm.DB
	catalog   CatalogService
	borrowers BorrowerDirectory
	now       func() time.Time
}

func NewEngine(db *gorm.DB, catalog CatalogService, borrowers BorrowerDirectory) *Engine {
	return &Engine{db: db, catalog: catalog, borrowers: borrowers, now: time.Now}
}

// WithClock replaces the engine clock. Used by tests to pin dates.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) today() time.Time {
	n := e.now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

func newLoanNum() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:7]
}

// CreateLoan checks out a book to a borrower. The loan and its zero-amount
// fine are inserted in one transaction; if either insert fails nothing is
// committed. A non-admin actor may only borrow for themselves and may not
// pick a due date.
func (e *Engine) CreateLoan(bookID, borrowerID uint, requestedDue *time.Time, actor Actor) (*models.Loan, error) {
	if !actor.Admin && actor.BorrowerID != borrowerID {
		return nil, ErrPermissionDenied
	}
	if requestedDue != nil && !actor.Admin {
		return nil, invalidField("date_due", ErrPermissionDenied)
	}

	borrower, err := e.borrowers.GetBorrower(borrowerID)
	if err != nil {
		return nil, errors.Wrap(err, "borrower lookup failed")
	}
	if borrower == nil {
		return nil, invalidField("borrower", ErrNotFound)
	}

	book, err := e.catalog.GetBook(bookID)
	if err != nil {
		return nil, errors.Wrap(err, "book lookup failed")
	}
	if book == nil {
		return nil, invalidField("book", ErrNotFound)
	}

	dateOut := e.today()
	dateDue := dateOut.AddDate(0, 0, LoanPeriodDays)
	if requestedDue != nil {
		dateDue = *requestedDue
	}

	loan := models.Loan{
		LoanNum:    newLoanNum(),
		BookID:     bookID,
		BorrowerID: borrowerID,
		DateOut:    dateOut,
		DateDue:    dateDue,
		IsActive:   true,
	}

	// Both availability checks run inside the same transaction as the
	// inserts; the unique indexes are the backstop if a concurrent writer
	// slips between check and insert.
	err = e.db.Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Loan{}).
			Where("book_id = ? AND is_active = ?", bookID, true).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return invalidField("book", ErrBookUnavailable)
		}

		if err := tx.Model(&models.Loan{}).
			Where("borrower_id = ? AND is_active = ?", borrowerID, true).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= MaxActiveLoans {
			return invalidField("borrower", ErrBorrowLimitExceeded)
		}

		if err := tx.Create(&loan).Error; err != nil {
			if isDuplicate(err) {
				return invalidField("loan_num", ErrUniquenessViolation)
			}
			return err
		}

		fine := models.Fine{LoanID: loan.ID, Amount: 0, Paid: false}
		if err := tx.Create(&fine).Error; err != nil {
			if isDuplicate(err) {
				return invalidField("fine", ErrUniquenessViolation)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// ComputeFine returns the current late fee for a loan without persisting
// anything.
func (e *Engine) ComputeFine(loanNum string, actor Actor) (float64, error) {
	loan, err := e.getOwnedLoan(e.db, loanNum, actor)
	if err != nil {
		return 0, err
	}
	return FineAmount(loan.DateDue, e.today()), nil
}

// SettleFine refreshes the fine amount and, when markPaid is set, persists
// it as paid and closes the loan in the same transaction. Settling an
// already-paid fine is a no-op; settling a loan closed by a staff return is
// rejected.
func (e *Engine) SettleFine(loanNum string, markPaid bool, actor Actor) (*models.Fine, *models.Loan, error) {
	var fine models.Fine
	var loan *models.Loan

	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		loan, err = e.getOwnedLoan(tx, loanNum, actor)
		if err != nil {
			return err
		}
		if err := tx.Where("loan_id = ?", loan.ID).First(&fine).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if !markPaid {
			if fine.Paid {
				return nil
			}
			fine.Amount = FineAmount(loan.DateDue, e.today())
			return tx.Save(&fine).Error
		}

		if !loan.IsActive {
			if fine.Paid {
				// Already settled; nothing left to do.
				return nil
			}
			return ErrLoanClosed
		}

		fine.Amount = FineAmount(loan.DateDue, e.today())
		fine.Paid = true
		if err := tx.Save(&fine).Error; err != nil {
			return err
		}
		return e.closeLoan(tx, loan)
	})
	if err != nil {
		return nil, nil, err
	}
	return &fine, loan, nil
}

// ReturnLoan closes a loan without settling its fine. Staff action only.
func (e *Engine) ReturnLoan(loanNum string, actor Actor) (*models.Loan, error) {
	if !actor.Admin {
		return nil, ErrPermissionDenied
	}

	var loan *models.Loan
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		loan, err = e.getOwnedLoan(tx, loanNum, actor)
		if err != nil {
			return err
		}
		if !loan.IsActive {
			return ErrLoanClosed
		}
		return e.closeLoan(tx, loan)
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ChangeDueDate moves the due date of an open loan. Admin only; every other
// loan field is immutable after creation.
func (e *Engine) ChangeDueDate(loanNum string, newDue time.Time, actor Actor) (*models.Loan, error) {
	if !actor.Admin {
		return nil, invalidField("date_due", ErrPermissionDenied)
	}

	var loan *models.Loan
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		loan, err = e.getOwnedLoan(tx, loanNum, actor)
		if err != nil {
			return err
		}
		if !loan.IsActive {
			return ErrLoanClosed
		}
		loan.DateDue = newDue
		return tx.Model(loan).Update("date_due", newDue).Error
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// GetLoan returns a single loan, ownership-scoped.
func (e *Engine) GetLoan(loanNum string, actor Actor) (*models.Loan, error) {
	return e.getOwnedLoan(e.db, loanNum, actor)
}

// ListLoans returns every loan visible to the actor: all of them for an
// admin, only the actor's own otherwise.
func (e *Engine) ListLoans(actor Actor) ([]models.Loan, error) {
	var loans []models.Loan
	query := e.db.Order("date_out, id")
	if !actor.Admin {
		query = query.Where("borrower_id = ?", actor.BorrowerID)
	}
	if err := query.Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

// GetFine returns the fine attached to a loan with its amount refreshed in
// memory. Nothing is persisted on read.
func (e *Engine) GetFine(loanNum string, actor Actor) (*models.Fine, error) {
	loan, err := e.getOwnedLoan(e.db, loanNum, actor)
	if err != nil {
		return nil, err
	}
	var fine models.Fine
	if err := e.db.Where("loan_id = ?", loan.ID).First(&fine).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !fine.Paid {
		fine.Amount = FineAmount(loan.DateDue, e.today())
	}
	return &fine, nil
}

// ListFines returns the fines visible to the actor, with unpaid amounts
// refreshed in memory.
func (e *Engine) ListFines(actor Actor) ([]models.Fine, error) {
	var fines []models.Fine
	query := e.db.Preload("Loan").Order("id")
	if !actor.Admin {
		query = query.Where("loan_id IN (?)",
			e.db.Model(&models.Loan{}).Select("id").Where("borrower_id = ?", actor.BorrowerID))
	}
	if err := query.Find(&fines).Error; err != nil {
		return nil, err
	}
	today := e.today()
	for i := range fines {
		if !fines[i].Paid {
			fines[i].Amount = FineAmount(fines[i].Loan.DateDue, today)
		}
	}
	return fines, nil
}

func (e *Engine) getOwnedLoan(tx *gorm.DB, loanNum string, actor Actor) (*models.Loan, error) {
	var loan models.Loan
	if err := tx.Where("loan_num = ?", loanNum).First(&loan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !actor.Admin && loan.BorrowerID != actor.BorrowerID {
		return nil, ErrPermissionDenied
	}
	return &loan, nil
}

func (e *Engine) closeLoan(tx *gorm.DB, loan *models.Loan) error {
	today := e.today()
	loan.IsActive = false
	loan.DateIn = &today
	return tx.Model(loan).Updates(map[string]interface{}{
		"is_active": false,
		"date_in":   today,
	}).Error
}
