package loans

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"library-backoffice/pkg/models"
)

type stubCatalog struct {
	books map[uint]*BookInfo
}

func (s stubCatalog) GetBook(bookID uint) (*BookInfo, error) {
	return s.books[bookID], nil
}

type stubDirectory struct {
	borrowers map[uint]*BorrowerInfo
}

func (s stubDirectory) GetBorrower(borrowerID uint) (*BorrowerInfo, error) {
	return s.borrowers[borrowerID], nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal("failed to connect test database")
	}
	db.AutoMigrate(&models.Loan{}, &models.Fine{})
	return db
}

func testEngine(t *testing.T, now time.Time) *Engine {
	catalog := stubCatalog{books: map[uint]*BookInfo{
		1: {ID: 1, ISBN13: "9780000000001", Title: "The Art of Computer Programming"},
		2: {ID: 2, ISBN13: "9780000000002", Title: "Database System Concepts"},
		3: {ID: 3, ISBN13: "9780000000003", Title: "Compilers"},
		4: {ID: 4, ISBN13: "9780000000004", Title: "Operating System Concepts"},
	}}
	directory := stubDirectory{borrowers: map[uint]*BorrowerInfo{
		10: {ID: 10, CardNum: 100010},
		11: {ID: 11, CardNum: 100011},
		99: {ID: 99, CardNum: 100099, Admin: true},
	}}
	return NewEngine(setupTestDB(t), catalog, directory).
		WithClock(func() time.Time { return now })
}

var (
	borrowerA = Actor{BorrowerID: 10}
	borrowerB = Actor{BorrowerID: 11}
	admin     = Actor{BorrowerID: 99, Admin: true}
)

func TestCreateLoan(t *testing.T) {
	now := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	e := testEngine(t, now)

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)
	assert.Len(t, loan.LoanNum, 7)
	assert.True(t, loan.IsActive)
	assert.Nil(t, loan.DateIn)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), loan.DateOut)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), loan.DateDue)

	var fine models.Fine
	assert.NoError(t, e.db.Where("loan_id = ?", loan.ID).First(&fine).Error)
	assert.Equal(t, 0.0, fine.Amount)
	assert.False(t, fine.Paid)
}

// The loan database holds no book or borrower rows; those live in the
// catalog and directory services. Creation must therefore work on a store
// that enforces foreign keys, which the default sqlite test setup does not.
func TestCreateLoanWithForeignKeysEnforced(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{})
	if err != nil {
		t.Fatal("failed to connect test database")
	}
	db.AutoMigrate(&models.Loan{}, &models.Fine{})

	catalog := stubCatalog{books: map[uint]*BookInfo{
		1: {ID: 1, ISBN13: "9780000000001", Title: "The Art of Computer Programming"},
	}}
	directory := stubDirectory{borrowers: map[uint]*BorrowerInfo{
		10: {ID: 10, CardNum: 100010},
	}}
	e := NewEngine(db, catalog, directory).
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) })

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)
	assert.True(t, loan.IsActive)

	fine, updated, err := e.SettleFine(loan.LoanNum, true, borrowerA)
	assert.NoError(t, err)
	assert.True(t, fine.Paid)
	assert.False(t, updated.IsActive)
}

func TestCreateLoanBookUnavailable(t *testing.T) {
	e := testEngine(t, time.Now())

	_, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	_, err = e.CreateLoan(1, 11, nil, borrowerB)
	assert.ErrorIs(t, err, ErrBookUnavailable)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "book", verr.Field)

	var count int64
	e.db.Model(&models.Loan{}).Where("book_id = ? AND is_active = ?", 1, true).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateLoanBorrowLimitExceeded(t *testing.T) {
	e := testEngine(t, time.Now())

	for _, bookID := range []uint{1, 2, 3} {
		_, err := e.CreateLoan(bookID, 10, nil, borrowerA)
		assert.NoError(t, err)
	}

	_, err := e.CreateLoan(4, 10, nil, borrowerA)
	assert.ErrorIs(t, err, ErrBorrowLimitExceeded)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "borrower", verr.Field)
}

func TestCreateLoanUnknownReferences(t *testing.T) {
	e := testEngine(t, time.Now())

	_, err := e.CreateLoan(77, 10, nil, borrowerA)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.CreateLoan(1, 77, nil, admin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateLoanDueDateIsPrivileged(t *testing.T) {
	e := testEngine(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	due := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := e.CreateLoan(1, 10, &due, borrowerA)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	loan, err := e.CreateLoan(1, 10, &due, admin)
	assert.NoError(t, err)
	assert.Equal(t, due, loan.DateDue)
}

func TestCreateLoanForAnotherBorrowerDenied(t *testing.T) {
	e := testEngine(t, time.Now())

	_, err := e.CreateLoan(1, 11, nil, borrowerA)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = e.CreateLoan(1, 11, nil, admin)
	assert.NoError(t, err)
}

func TestBookAvailableAgainAfterClose(t *testing.T) {
	e := testEngine(t, time.Now())

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	_, err = e.ReturnLoan(loan.LoanNum, admin)
	assert.NoError(t, err)

	_, err = e.CreateLoan(1, 11, nil, borrowerB)
	assert.NoError(t, err)
}

func TestFineAmount(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		asOf     time.Time
		expected float64
	}{
		{"ten days late", time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), 2.50},
		{"one day late", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 0.25},
		{"on the due date", due, 0},
		{"before the due date", time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC), 0},
		{"time of day ignored", time.Date(2024, 1, 3, 23, 59, 0, 0, time.UTC), 0.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FineAmount(due, tt.asOf))
		})
	}
}

func TestFineAmountMonotonic(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := 0.0
	for days := 0; days <= 30; days++ {
		amount := FineAmount(due, due.AddDate(0, 0, days))
		assert.GreaterOrEqual(t, amount, prev)
		prev = amount
	}
}

func TestComputeFine(t *testing.T) {
	e := testEngine(t, time.Date(2023, 12, 18, 0, 0, 0, 0, time.UTC))

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)
	// 14-day period puts the due date at 2024-01-01.
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), loan.DateDue)

	e.WithClock(func() time.Time { return time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC) })
	amount, err := e.ComputeFine(loan.LoanNum, borrowerA)
	assert.NoError(t, err)
	assert.Equal(t, 2.50, amount)
}

func TestSettleFinePaid(t *testing.T) {
	e := testEngine(t, time.Date(2023, 12, 18, 0, 0, 0, 0, time.UTC))

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	e.WithClock(func() time.Time { return time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC) })
	fine, updated, err := e.SettleFine(loan.LoanNum, true, borrowerA)
	assert.NoError(t, err)
	assert.Equal(t, 2.50, fine.Amount)
	assert.True(t, fine.Paid)
	assert.False(t, updated.IsActive)
	assert.NotNil(t, updated.DateIn)
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), *updated.DateIn)

	var stored models.Loan
	e.db.Where("loan_num = ?", loan.LoanNum).First(&stored)
	assert.False(t, stored.IsActive)
	assert.NotNil(t, stored.DateIn)
}

func TestSettleFineIdempotent(t *testing.T) {
	e := testEngine(t, time.Date(2023, 12, 18, 0, 0, 0, 0, time.UTC))

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	e.WithClock(func() time.Time { return time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC) })
	first, _, err := e.SettleFine(loan.LoanNum, true, borrowerA)
	assert.NoError(t, err)

	e.WithClock(func() time.Time { return time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC) })
	second, updated, err := e.SettleFine(loan.LoanNum, true, borrowerA)
	assert.NoError(t, err)
	assert.Equal(t, first.Amount, second.Amount)
	assert.True(t, second.Paid)
	assert.False(t, updated.IsActive)
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), *updated.DateIn)
}

func TestSettleFineRefreshOnly(t *testing.T) {
	e := testEngine(t, time.Date(2023, 12, 18, 0, 0, 0, 0, time.UTC))

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	e.WithClock(func() time.Time { return time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC) })
	fine, updated, err := e.SettleFine(loan.LoanNum, false, borrowerA)
	assert.NoError(t, err)
	assert.Equal(t, 1.00, fine.Amount)
	assert.False(t, fine.Paid)
	assert.True(t, updated.IsActive)
	assert.Nil(t, updated.DateIn)
}

func TestSettleFineAfterStaffReturnRejected(t *testing.T) {
	e := testEngine(t, time.Now())

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	_, err = e.ReturnLoan(loan.LoanNum, admin)
	assert.NoError(t, err)

	_, _, err = e.SettleFine(loan.LoanNum, true, borrowerA)
	assert.ErrorIs(t, err, ErrLoanClosed)
}

func TestSettleFineScopedToOwner(t *testing.T) {
	e := testEngine(t, time.Now())

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	_, _, err = e.SettleFine(loan.LoanNum, true, borrowerB)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, _, err = e.SettleFine(loan.LoanNum, true, admin)
	assert.NoError(t, err)
}

func TestReturnLoan(t *testing.T) {
	e := testEngine(t, time.Now())

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	_, err = e.ReturnLoan(loan.LoanNum, borrowerA)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	updated, err := e.ReturnLoan(loan.LoanNum, admin)
	assert.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.NotNil(t, updated.DateIn)

	_, err = e.ReturnLoan(loan.LoanNum, admin)
	assert.ErrorIs(t, err, ErrLoanClosed)

	// The fine survives the return and stays payable history.
	var fine models.Fine
	assert.NoError(t, e.db.Where("loan_id = ?", loan.ID).First(&fine).Error)
	assert.False(t, fine.Paid)
}

func TestChangeDueDate(t *testing.T) {
	e := testEngine(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	newDue := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	_, err = e.ChangeDueDate(loan.LoanNum, newDue, borrowerA)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	updated, err := e.ChangeDueDate(loan.LoanNum, newDue, admin)
	assert.NoError(t, err)
	assert.Equal(t, newDue, updated.DateDue)

	_, err = e.ReturnLoan(loan.LoanNum, admin)
	assert.NoError(t, err)

	_, err = e.ChangeDueDate(loan.LoanNum, newDue.AddDate(0, 0, 7), admin)
	assert.ErrorIs(t, err, ErrLoanClosed)
}

func TestClosedLoanKeepsImmutableFields(t *testing.T) {
	e := testEngine(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	e.WithClock(func() time.Time { return time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC) })
	_, closed, err := e.SettleFine(loan.LoanNum, true, borrowerA)
	assert.NoError(t, err)

	assert.Equal(t, loan.LoanNum, closed.LoanNum)
	assert.Equal(t, loan.BookID, closed.BookID)
	assert.Equal(t, loan.BorrowerID, closed.BorrowerID)
	assert.Equal(t, loan.DateOut, closed.DateOut)
	assert.False(t, closed.IsActive)
}

func TestListLoansScoped(t *testing.T) {
	e := testEngine(t, time.Now())

	_, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)
	_, err = e.CreateLoan(2, 11, nil, borrowerB)
	assert.NoError(t, err)

	mine, err := e.ListLoans(borrowerA)
	assert.NoError(t, err)
	assert.Len(t, mine, 1)
	assert.Equal(t, uint(10), mine[0].BorrowerID)

	all, err := e.ListLoans(admin)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListFinesScoped(t *testing.T) {
	e := testEngine(t, time.Date(2023, 12, 18, 0, 0, 0, 0, time.UTC))

	loanA, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)
	_, err = e.CreateLoan(2, 11, nil, borrowerB)
	assert.NoError(t, err)

	e.WithClock(func() time.Time { return time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC) })
	mine, err := e.ListFines(borrowerA)
	assert.NoError(t, err)
	assert.Len(t, mine, 1)
	assert.Equal(t, loanA.ID, mine[0].LoanID)
	assert.Equal(t, 2.50, mine[0].Amount)

	// The refreshed amount is display-only; the stored row still holds zero.
	var stored models.Fine
	e.db.Where("loan_id = ?", loanA.ID).First(&stored)
	assert.Equal(t, 0.0, stored.Amount)

	all, err := e.ListFines(admin)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetFineRefreshesUnpaidAmount(t *testing.T) {
	e := testEngine(t, time.Date(2023, 12, 18, 0, 0, 0, 0, time.UTC))

	loan, err := e.CreateLoan(1, 10, nil, borrowerA)
	assert.NoError(t, err)

	e.WithClock(func() time.Time { return time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC) })
	fine, err := e.GetFine(loan.LoanNum, borrowerA)
	assert.NoError(t, err)
	assert.Equal(t, 0.50, fine.Amount)

	_, err = e.GetFine(loan.LoanNum, borrowerB)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
