// Pharmacy directory HTTP handlers.
//
//   - GET   /admin/pharmacies/{id}
//   - PUT   /admin/pharmacies/{id}          (upsert; updates the geo index)
//   - PATCH /admin/pharmacies/{id}/status
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/services"
)

// UpsertPharmacyRequest is a full directory entry; the id comes from the path.
type UpsertPharmacyRequest struct {
	Name   string  `json:"name"   example:"Union Place Pharmacy"`
	Lat    float64 `json:"lat"    example:"6.9110"`
	Lng    float64 `json:"lng"    example:"79.8590"`
	Status string  `json:"status" example:"ACTIVE" enums:"ACTIVE,SUSPENDED,CLOSED"`
}

// UpdatePharmacyStatusRequest changes only the status.
type UpdatePharmacyStatusRequest struct {
	Status string `json:"status" binding:"required" example:"SUSPENDED" enums:"ACTIVE,SUSPENDED,CLOSED"`
}

// GetPharmacy godoc
// @ID          getPharmacy
// @Summary     Read a pharmacy
// @Tags        Pharmacies
// @Produce     json
// @Param       id   path      int  true  "Pharmacy ID"  minimum(1)
// @Success     200  {object}  domain.Pharmacy
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     404  {object}  handlers.ErrorResponse  "Pharmacy not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/pharmacies/{id} [get]
func (h *Handlers) GetPharmacy(c *gin.Context) {
	id, valid := pathID(c, "pharmacy")
	if !valid {
		return
	}
	p, err := h.pharmacySvc.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpsertPharmacy godoc
// @ID          upsertPharmacy
// @Summary     Create or replace a pharmacy
// @Description Writes the directory row and publishes it to the candidate index.
// @Tags        Pharmacies
// @Accept      json
// @Produce     json
// @Param       id    path      int                              true  "Pharmacy ID"  minimum(1)
// @Param       body  body      handlers.UpsertPharmacyRequest   true  "Directory entry"
// @Success     200   {object}  domain.Pharmacy
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/pharmacies/{id} [put]
func (h *Handlers) UpsertPharmacy(c *gin.Context) {
	id, valid := pathID(c, "pharmacy")
	if !valid {
		return
	}
	var req UpsertPharmacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	p, err := h.pharmacySvc.Upsert(c.Request.Context(), services.PharmacyInput{
		ID:     id,
		Name:   req.Name,
		Lat:    req.Lat,
		Lng:    req.Lng,
		Status: domain.PharmacyStatus(req.Status),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdatePharmacyStatus godoc
// @ID          updatePharmacyStatus
// @Summary     Change a pharmacy's status
// @Description Suspended and closed pharmacies stop being reroute targets immediately.
// @Tags        Pharmacies
// @Accept      json
// @Produce     json
// @Param       id    path      int                                    true  "Pharmacy ID"  minimum(1)
// @Param       body  body      handlers.UpdatePharmacyStatusRequest   true  "New status"
// @Success     200   {object}  domain.Pharmacy
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404   {object}  handlers.ErrorResponse  "Pharmacy not found"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/pharmacies/{id}/status [patch]
func (h *Handlers) UpdatePharmacyStatus(c *gin.Context) {
	id, valid := pathID(c, "pharmacy")
	if !valid {
		return
	}
	var req UpdatePharmacyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	p, err := h.pharmacySvc.SetStatus(c.Request.Context(), id, domain.PharmacyStatus(req.Status))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}
