// Package handlers exposes the REST endpoints of the pharmacy backend.
//
// Handlers are transport-thin: they parse and bound input, call the
// application services through the interfaces below, and translate results
// and errors into HTTP responses.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/geo"
	"github.com/tbourn/go-pharmacy-backend/internal/services"
	"github.com/tbourn/go-pharmacy-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// CommissionService reads and edits versioned wallet settings.
type CommissionService interface {
	GetGlobalSettings(ctx context.Context) (domain.GlobalSettings, error)
	SetGlobalSettings(ctx context.Context, in services.SettingsInput, expectedVersion int64) (domain.GlobalSettings, error)
	GetOverride(ctx context.Context, pharmacyID uint64) (domain.PharmacyCommissionOverride, error)
	SetPharmacyOverride(ctx context.Context, pharmacyID uint64, percent decimal.Decimal, expectedVersion int64) (domain.PharmacyCommissionOverride, error)
	RemoveOverride(ctx context.Context, pharmacyID uint64, expectedVersion int64) error
	EffectiveCommission(ctx context.Context, pharmacyID uint64) (domain.EffectiveCommission, error)
}

// RerouteService moves prescriptions between pharmacies.
type RerouteService interface {
	GetPrescription(ctx context.Context, id uint64) (*domain.Prescription, error)
	Candidates(ctx context.Context, prescriptionID uint64, q services.CandidateQuery) (geo.Page, error)
	Reroute(ctx context.Context, req services.RerouteRequest) (*services.RerouteResult, error)
	HistoryPage(ctx context.Context, prescriptionID uint64, page, pageSize int) ([]domain.RerouteHistory, int64, error)
}

// PharmacyService manages the pharmacy directory.
type PharmacyService interface {
	Get(ctx context.Context, id uint64) (*domain.Pharmacy, error)
	Upsert(ctx context.Context, in services.PharmacyInput) (*domain.Pharmacy, error)
	SetStatus(ctx context.Context, id uint64, status domain.PharmacyStatus) (*domain.Pharmacy, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints.
type Handlers struct {
	walletSvc   CommissionService
	rerouteSvc  RerouteService
	pharmacySvc PharmacyService
}

// New constructs a Handlers instance bound to the given services.
func New(walletSvc CommissionService, rerouteSvc RerouteService, pharmacySvc PharmacyService) *Handlers {
	return &Handlers{walletSvc: walletSvc, rerouteSvc: rerouteSvc, pharmacySvc: pharmacySvc}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// pathID parses the :id route parameter, writing a 400 when it is not a
// positive integer.
func pathID(c *gin.Context, what string) (uint64, bool) {
	id, valid := utils.ParseID(c.Param("id"))
	if !valid {
		write(c, http.StatusBadRequest, ErrorResponse{
			Code:    ErrCodeValidation,
			Message: what + " id must be a positive integer",
			Retry:   RetryNever,
			Fields:  map[string]string{"id": "gt=0"},
		})
		return 0, false
	}
	return id, true
}

// badBody writes the envelope for an unparseable JSON body.
func badBody(c *gin.Context, err error) {
	write(c, http.StatusBadRequest, ErrorResponse{
		Code:    ErrCodeBadRequest,
		Message: "invalid JSON body: " + err.Error(),
		Retry:   RetryNever,
	})
}
