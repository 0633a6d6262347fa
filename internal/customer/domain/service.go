package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
)

type ListCustomerRequest struct {
	PageToken string
	PageSize  int
	Name      string
	Email     string
}

type ListCustomerFilter struct {
	Name  string
	Email string
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

type UpdateCustomerRequest struct {
	ID      snowflake.ID
	Name    *string
	Email   *string
	Phone   *string
	Address *string
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	GetByID(context.Context, snowflake.ID) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	Update(context.Context, UpdateCustomerRequest) (Customer, error)
	Delete(context.Context, snowflake.ID) error
}

var (
	ErrNotFound       = apperr.NotFound("customer_not_found", "customer not found")
	ErrInvalidName    = apperr.Validation("invalid_name", "customer name is required").WithField("name")
	ErrInvalidEmail   = apperr.Validation("invalid_email", "customer email is invalid").WithField("email")
	ErrEmailTaken     = apperr.Conflict("customer_email_taken", "email already belongs to another customer").WithField("email")
	ErrHasOpenRecords = apperr.Validation("customer_has_records", "customer still has jobs, invoices or receipts")
)
