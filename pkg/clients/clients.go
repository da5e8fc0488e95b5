package clients

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"library-backoffice/pkg/loans"
)

// CatalogClient reads book reference data from the catalog service.
type CatalogClient struct {
	baseURL string
	client  *http.Client
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CatalogClient) GetBook(bookID uint) (*loans.BookInfo, error) {
	url := fmt.Sprintf("%s/api/v1/books/id/%d", c.baseURL, bookID)
	response, err := c.client.Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "catalog service unreachable")
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("catalog service returned status %d", response.StatusCode)
	}

	var book loans.BookInfo
	if err := json.NewDecoder(response.Body).Decode(&book); err != nil {
		return nil, errors.Wrap(err, "failed to decode book")
	}
	return &book, nil
}

// BorrowerClient reads identity and privilege data from the borrower
// directory service.
type BorrowerClient struct {
	baseURL string
	client  *http.Client
}

func NewBorrowerClient(baseURL string) *BorrowerClient {
	return &BorrowerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *BorrowerClient) GetBorrower(borrowerID uint) (*loans.BorrowerInfo, error) {
	url := fmt.Sprintf("%s/api/v1/borrowers/id/%d", c.baseURL, borrowerID)
	response, err := c.client.Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "borrower service unreachable")
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("borrower service returned status %d", response.StatusCode)
	}

	var borrower loans.BorrowerInfo
	if err := json.NewDecoder(response.Body).Decode(&borrower); err != nil {
		return nil, errors.Wrap(err, "failed to decode borrower")
	}
	return &borrower, nil
}
