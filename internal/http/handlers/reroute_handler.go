// Prescription HTTP handlers.
//
// This file exposes the customer-facing prescription endpoints:
//   - GET  /prescriptions/customer/{id}
//   - GET  /prescriptions/customer/{id}/reroute/candidates
//   - POST /prescriptions/customer/{id}/reroute   (Idempotency-Key required)
//   - GET  /prescriptions/customer/{id}/reroute/history (paginated, ETag)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/geo"
	"github.com/tbourn/go-pharmacy-backend/internal/http/middleware"
	"github.com/tbourn/go-pharmacy-backend/internal/repo"
	"github.com/tbourn/go-pharmacy-backend/internal/services"
	"github.com/tbourn/go-pharmacy-backend/internal/utils"
)

//
// DTOs
//

// RerouteRequest is the JSON payload for moving a prescription.
type RerouteRequest struct {
	// Pharmacy to move the prescription to
	TargetPharmacyID uint64 `json:"targetPharmacyId" example:"42"`
	// Optional free-text reason (max 500 chars)
	Reason string `json:"reason" example:"out of stock at current pharmacy"`
}

// HistoryResponse wraps a page of reroute history.
type HistoryResponse struct {
	History    []domain.RerouteHistory `json:"history"`
	Pagination Pagination              `json:"pagination"`
}

// candidateQuery parses the candidate filter from the query string. lat and
// lng must be given together; radiusKm needs an origin.
func candidateQuery(c *gin.Context) (services.CandidateQuery, error) {
	var q services.CandidateQuery
	bad := map[string]string{}

	lat, okLat := utils.OptionalFloat(c.Query("lat"))
	lng, okLng := utils.OptionalFloat(c.Query("lng"))
	if !okLat {
		bad["lat"] = "numeric"
	}
	if !okLng {
		bad["lng"] = "numeric"
	}
	if okLat && okLng {
		switch {
		case lat != nil && lng != nil:
			q.Origin = &geo.Point{Lat: *lat, Lng: *lng}
		case lat != nil:
			bad["lng"] = "required_with=lat"
		case lng != nil:
			bad["lat"] = "required_with=lng"
		}
	}

	if r, okR := utils.OptionalFloat(c.Query("radiusKm")); !okR {
		bad["radiusKm"] = "numeric"
	} else if r != nil {
		if q.Origin == nil && len(bad) == 0 {
			bad["radiusKm"] = "required_with=lat lng"
		}
		q.RadiusKm = r
	}

	if raw := c.Query("excludePharmacyId"); raw != "" {
		id, okID := utils.ParseID(raw)
		if !okID {
			bad["excludePharmacyId"] = "gt=0"
		}
		q.ExcludePharmacyID = id
	}

	var okN bool
	if q.Limit, okN = utils.OptionalInt(c.Query("limit"), 0); !okN {
		bad["limit"] = "numeric"
	}
	if q.Offset, okN = utils.OptionalInt(c.Query("offset"), 0); !okN {
		bad["offset"] = "numeric"
	}

	for _, s := range utils.SplitList(c.QueryArray("status")) {
		q.Statuses = append(q.Statuses, domain.PharmacyStatus(strings.ToUpper(s)))
	}

	if len(bad) > 0 {
		return q, &services.ValidationError{Fields: bad}
	}
	return q, nil
}

//
// Handlers
//

// GetPrescription godoc
// @ID          getPrescription
// @Summary     Read a prescription
// @Tags        Prescriptions
// @Produce     json
// @Param       id   path      int  true  "Prescription ID"  minimum(1)
// @Success     200  {object}  domain.Prescription
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     404  {object}  handlers.ErrorResponse  "Prescription not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /prescriptions/customer/{id} [get]
func (h *Handlers) GetPrescription(c *gin.Context) {
	id, valid := pathID(c, "prescription")
	if !valid {
		return
	}
	rx, err := h.rerouteSvc.GetPrescription(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rx)
}

// ListRerouteCandidates godoc
// @ID          listRerouteCandidates
// @Summary     List pharmacies a prescription can be moved to
// @Description With lat/lng the result is ordered by distance and may be bounded by radiusKm; without an origin it is ordered by pharmacy id. The current pharmacy is always excluded.
// @Tags        Prescriptions
// @Produce     json
// @Param       id                 path   int      true   "Prescription ID"  minimum(1)
// @Param       lat                query  number   false  "Origin latitude"   example(6.9271)
// @Param       lng                query  number   false  "Origin longitude"  example(79.8612)
// @Param       radiusKm           query  number   false  "Search radius in km (needs lat/lng)"  minimum(0)
// @Param       excludePharmacyId  query  int      false  "Additional pharmacy to exclude"
// @Param       status             query  []string false  "Statuses to include (default ACTIVE)"  collectionFormat(multi)
// @Param       limit              query  int      false  "Page size"  minimum(0) maximum(100) default(20)
// @Param       offset             query  int      false  "Offset"     minimum(0) default(0)
// @Success     200  {object}  geo.Page
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Prescription not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /prescriptions/customer/{id}/reroute/candidates [get]
func (h *Handlers) ListRerouteCandidates(c *gin.Context) {
	id, valid := pathID(c, "prescription")
	if !valid {
		return
	}
	q, err := candidateQuery(c)
	if err != nil {
		failErr(c, err)
		return
	}
	page, err := h.rerouteSvc.Candidates(c.Request.Context(), id, q)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

// RerouteToPharmacy godoc
// @ID          rerouteToPharmacy
// @Summary     Move a prescription to another pharmacy
// @Description Executes at most once per Idempotency-Key. Repeating the key with the same body replays the original outcome (success or rejection) with Idempotency-Replayed: true; a different body is rejected with 422.
// @Tags        Prescriptions
// @Accept      json
// @Produce     json
// @Param       id               path    int                       true  "Prescription ID"  minimum(1)
// @Param       Idempotency-Key  header  string                    true  "Client-generated key (max 200 chars)"  example(7c0b0b1e-reroute-1)
// @Param       body             body    handlers.RerouteRequest   true  "Target pharmacy and reason"
// @Success     200  {object}  services.RerouteResult
// @Header      200  {string}  Idempotency-Replayed  "true when answered from the ledger"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed or key missing"
// @Failure     404  {object}  handlers.ErrorResponse  "Prescription or pharmacy not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Concurrent reroute or request in flight (retry: as_is)"
// @Failure     422  {object}  handlers.ErrorResponse  "Ineligible target, not reroutable, or key reuse"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /prescriptions/customer/{id}/reroute [post]
func (h *Handlers) RerouteToPharmacy(c *gin.Context) {
	id, valid := pathID(c, "prescription")
	if !valid {
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	var req RerouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	res, err := h.rerouteSvc.Reroute(c.Request.Context(), services.RerouteRequest{
		PrescriptionID:   id,
		TargetPharmacyID: req.TargetPharmacyID,
		Reason:           req.Reason,
		IdempotencyKey:   key,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusOK, res)
}

// ListRerouteHistory godoc
// @ID          listRerouteHistory
// @Summary     List a prescription's reroute history (paginated)
// @Description Oldest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Prescriptions
// @Produce     json
// @Param       id             path    int     true   "Prescription ID"  minimum(1)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.HistoryResponse
// @Header      200  {string}  ETag  "Weak ETag for current history"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     404  {object}  handlers.ErrorResponse  "Prescription not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /prescriptions/customer/{id}/reroute/history [get]
func (h *Handlers) ListRerouteHistory(c *gin.Context) {
	id, valid := pathID(c, "prescription")
	if !valid {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isSvc := h.rerouteSvc.(*services.RerouteService); isSvc {
		db = svc.DB
	}
	if db != nil {
		if fp, err := repo.RerouteHistoryFingerprint(ctx, db, id); err == nil {
			etag := fmt.Sprintf(`W/"reroutes:%d:v%d:%d:p%d.%d"`, id, fp.Version, fp.Entries, page, pageSize)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.rerouteSvc.HistoryPage(ctx, id, page, pageSize)
	if err != nil {
		c.Writer.Header().Del("ETag")
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{History: items, Pagination: newPagination(page, pageSize, total)})
}
