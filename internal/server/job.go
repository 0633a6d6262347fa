package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"github.com/smallbiznis/fieldbill/pkg/optional"
)

type createJobRequest struct {
	CustomerID  snowflake.ID    `json:"customer_id"`
	Title       string          `json:"title"`
	JobType     string          `json:"job_type"`
	Address     string          `json:"address"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	Status      string          `json:"status"`
}

type updateJobRequest struct {
	Title       optional.Value[string]          `json:"title"`
	JobType     optional.Value[string]          `json:"job_type"`
	Address     optional.Value[string]          `json:"address"`
	Description optional.Value[string]          `json:"description"`
	Price       optional.Value[decimal.Decimal] `json:"price"`
	StartDate   optional.Value[string]          `json:"start_date"`
	EndDate     optional.Value[*string]         `json:"end_date"`
	Status      optional.Value[string]          `json:"status"`
}

type updateJobStatusRequest struct {
	Status  string `json:"status"`
	EndDate string `json:"end_date"`
}

func (s *Server) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var startDate time.Time
	if strings.TrimSpace(req.StartDate) != "" {
		parsed, err := parseDate(req.StartDate)
		if err != nil {
			AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
			return
		}
		startDate = parsed
	}
	endDate, err := parseOptionalDate(req.EndDate)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
		return
	}

	resp, err := s.jobSvc.Create(c.Request.Context(), jobdomain.CreateJobRequest{
		CustomerID:  req.CustomerID,
		Title:       req.Title,
		JobType:     req.JobType,
		Address:     req.Address,
		Description: req.Description,
		Price:       req.Price,
		StartDate:   startDate,
		EndDate:     endDate,
		Status:      normalizeJobStatus(req.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListJobs(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
		Invoiced   string `form:"invoiced"`
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
	invoiced, err := parseOptionalBool(query.Invoiced)
	if err != nil {
		AbortWithError(c, newValidationError("invoiced", "invalid_invoiced", "invalid invoiced"))
		return
	}

	resp, err := s.jobSvc.List(c.Request.Context(), jobdomain.ListJobsRequest{
		CustomerID: customerID,
		Status:     normalizeJobStatus(query.Status),
		Invoiced:   invoiced,
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetJobByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.jobSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req updateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	patch := jobdomain.UpdateJobRequest{
		ID:          id,
		Title:       req.Title,
		JobType:     req.JobType,
		Address:     req.Address,
		Description: req.Description,
		Price:       req.Price,
	}
	if raw, set := req.StartDate.Get(); set {
		parsed, err := parseDate(raw)
		if err != nil {
			AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
			return
		}
		patch.StartDate = optional.Some(parsed)
	}
	if raw, set := req.EndDate.Get(); set {
		var endDate *time.Time
		if raw != nil {
			parsed, err := parseOptionalDate(*raw)
			if err != nil {
				AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
				return
			}
			endDate = parsed
		}
		patch.EndDate = optional.Some(endDate)
	}
	if raw, set := req.Status.Get(); set {
		patch.Status = optional.Some(normalizeJobStatus(raw))
	}

	resp, err := s.jobSvc.Update(c.Request.Context(), patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateJobStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req updateJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	endDate, err := parseOptionalDate(req.EndDate)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
		return
	}

	resp, err := s.jobSvc.UpdateStatus(c.Request.Context(), jobdomain.UpdateStatusRequest{
		ID:      id,
		Status:  normalizeJobStatus(req.Status),
		EndDate: endDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.jobSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func normalizeJobStatus(value string) jobdomain.Status {
	return jobdomain.Status(strings.ToUpper(strings.TrimSpace(value)))
}
