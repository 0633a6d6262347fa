package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"github.com/smallbiznis/fieldbill/pkg/optional"
)

type createInvoiceRequest struct {
	CustomerID       snowflake.ID                    `json:"customer_id"`
	JobIDs           []snowflake.ID                  `json:"job_ids"`
	VATRate          optional.Value[decimal.Decimal] `json:"vat_rate"`
	PaymentTermsDays optional.Value[int]             `json:"payment_terms_days"`
	Notes            string                          `json:"notes"`
}

type updateInvoiceRequest struct {
	JobIDs           optional.Value[[]snowflake.ID]  `json:"job_ids"`
	VATRate          optional.Value[decimal.Decimal] `json:"vat_rate"`
	PaymentTermsDays optional.Value[int]             `json:"payment_terms_days"`
	Notes            optional.Value[string]          `json:"notes"`
}

type markInvoicePaidRequest struct {
	PaymentDate      string `json:"payment_date"`
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		CustomerID:       req.CustomerID,
		JobIDs:           req.JobIDs,
		VATRate:          req.VATRate,
		PaymentTermsDays: req.PaymentTermsDays,
		Notes:            req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseOptionalSnowflakeID(query.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		CustomerID: customerID,
		Status:     invoicedomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req updateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.Update(c.Request.Context(), invoicedomain.UpdateInvoiceRequest{
		ID:               id,
		JobIDs:           req.JobIDs,
		VATRate:          req.VATRate,
		PaymentTermsDays: req.PaymentTermsDays,
		Notes:            req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.invoiceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) MarkInvoiceSent(c *gin.Context) {
	s.invoiceStatusAction(c, s.invoiceSvc.MarkAsSent)
}

func (s *Server) MarkInvoiceDelivered(c *gin.Context) {
	s.invoiceStatusAction(c, s.invoiceSvc.MarkAsDelivered)
}

func (s *Server) CancelInvoice(c *gin.Context) {
	s.invoiceStatusAction(c, s.invoiceSvc.Cancel)
}

func (s *Server) SendInvoice(c *gin.Context) {
	s.invoiceStatusAction(c, s.invoiceSvc.Send)
}

func (s *Server) MarkInvoicePaid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req markInvoicePaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var paymentDate time.Time
	if strings.TrimSpace(req.PaymentDate) != "" {
		parsed, err := parseDate(req.PaymentDate)
		if err != nil {
			AbortWithError(c, newValidationError("payment_date", "invalid_payment_date", "invalid payment_date"))
			return
		}
		paymentDate = parsed
	}

	resp, err := s.invoiceSvc.MarkAsPaid(c.Request.Context(), invoicedomain.MarkAsPaidRequest{
		ID:               id,
		PaymentDate:      paymentDate,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := s.invoiceSvc.RenderPDF(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writePDF(c, invoice.InvoiceNumber+".pdf", doc)
}

func (s *Server) invoiceStatusAction(c *gin.Context, action func(context.Context, snowflake.ID) (invoicedomain.Invoice, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := action(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func writePDF(c *gin.Context, filename string, doc io.Reader) {
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, nil)
}
