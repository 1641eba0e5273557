// Wallet HTTP handlers.
//
// This file exposes the admin endpoints for commission settings:
//   - GET    /admin/wallet/settings
//   - PUT    /admin/wallet/settings
//   - GET    /admin/wallet/commission/pharmacies/{id}
//   - PUT    /admin/wallet/commission/pharmacies/{id}
//   - DELETE /admin/wallet/commission/pharmacies/{id}
//   - GET    /admin/wallet/commission/pharmacies/{id}/effective
//
// Every write carries the version the caller last read. A stale version is
// answered with 409 version_conflict and nothing is applied.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-pharmacy-backend/internal/services"
)

//
// DTOs
//

// UpdateSettingsRequest replaces the global wallet settings.
type UpdateSettingsRequest struct {
	// ISO 4217 code
	Currency string `json:"currency" example:"LKR"`
	// 0..100
	CommissionPercent *decimal.Decimal `json:"commissionPercent" swaggertype:"number" example:"10"`
	// >= 0, in Currency
	ConvenienceFee *decimal.Decimal `json:"convenienceFee" swaggertype:"number" example:"150"`
	// Version last read; 0 when settings were never saved
	Version *int64 `json:"version" example:"3"`
}

// UpdateOverrideRequest creates or updates a pharmacy's commission override.
type UpdateOverrideRequest struct {
	// 0..100
	CommissionPercent *decimal.Decimal `json:"commissionPercent" swaggertype:"number" example:"7.5"`
	// Version last read; 0 to create
	Version *int64 `json:"version" example:"0"`
}

// DeleteOverrideRequest is the optional DELETE body when ?version= is absent.
type DeleteOverrideRequest struct {
	Version *int64 `json:"version" example:"2"`
}

// missing collects absent required fields into a validation error.
func missing(fields ...string) error {
	ve := &services.ValidationError{Fields: make(map[string]string, len(fields))}
	for _, f := range fields {
		ve.Fields[f] = "required"
	}
	return ve
}

func versionETag(kind string, v int64) string {
	return `W/"` + kind + ":" + strconv.FormatInt(v, 10) + `"`
}

//
// Handlers
//

// GetWalletSettings godoc
// @ID          getWalletSettings
// @Summary     Read global wallet settings
// @Description Returns the current settings. Before the first save the configured defaults are returned at version 0.
// @Tags        Wallet
// @Produce     json
// @Success     200  {object}  domain.GlobalSettings
// @Header      200  {string}  ETag  "Weak ETag of the settings version"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/wallet/settings [get]
func (h *Handlers) GetWalletSettings(c *gin.Context) {
	gs, err := h.walletSvc.GetGlobalSettings(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("ETag", versionETag("settings", gs.Version))
	ok(c, http.StatusOK, gs)
}

// UpdateWalletSettings godoc
// @ID          updateWalletSettings
// @Summary     Update global wallet settings
// @Description Compare-and-swap update. The body version must equal the current version; the response carries the new one.
// @Tags        Wallet
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.UpdateSettingsRequest  true  "New settings and expected version"
// @Success     200   {object}  domain.GlobalSettings
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409   {object}  handlers.ErrorResponse  "Version conflict (retry: refetch)"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/wallet/settings [put]
func (h *Handlers) UpdateWalletSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	var absent []string
	if req.CommissionPercent == nil {
		absent = append(absent, "commissionPercent")
	}
	if req.ConvenienceFee == nil {
		absent = append(absent, "convenienceFee")
	}
	if req.Version == nil {
		absent = append(absent, "version")
	}
	if len(absent) > 0 {
		failErr(c, missing(absent...))
		return
	}

	gs, err := h.walletSvc.SetGlobalSettings(c.Request.Context(), services.SettingsInput{
		Currency:          req.Currency,
		CommissionPercent: *req.CommissionPercent,
		ConvenienceFee:    *req.ConvenienceFee,
	}, *req.Version)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("ETag", versionETag("settings", gs.Version))
	ok(c, http.StatusOK, gs)
}

// GetCommissionOverride godoc
// @ID          getCommissionOverride
// @Summary     Read a pharmacy commission override
// @Tags        Wallet
// @Produce     json
// @Param       id   path      int  true  "Pharmacy ID"  minimum(1)
// @Success     200  {object}  domain.PharmacyCommissionOverride
// @Header      200  {string}  ETag  "Weak ETag of the override version"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     404  {object}  handlers.ErrorResponse  "No override"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/wallet/commission/pharmacies/{id} [get]
func (h *Handlers) GetCommissionOverride(c *gin.Context) {
	id, valid := pathID(c, "pharmacy")
	if !valid {
		return
	}
	ovr, err := h.walletSvc.GetOverride(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("ETag", versionETag("override:"+strconv.FormatUint(id, 10), ovr.Version))
	ok(c, http.StatusOK, ovr)
}

// PutCommissionOverride godoc
// @ID          putCommissionOverride
// @Summary     Create or update a pharmacy commission override
// @Description Version 0 creates the override (also after a delete); otherwise it must equal the current version.
// @Tags        Wallet
// @Accept      json
// @Produce     json
// @Param       id    path      int                              true  "Pharmacy ID"  minimum(1)
// @Param       body  body      handlers.UpdateOverrideRequest   true  "Percent and expected version"
// @Success     200   {object}  domain.PharmacyCommissionOverride
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown pharmacy"
// @Failure     409   {object}  handlers.ErrorResponse  "Version conflict (retry: refetch)"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/wallet/commission/pharmacies/{id} [put]
func (h *Handlers) PutCommissionOverride(c *gin.Context) {
	id, valid := pathID(c, "pharmacy")
	if !valid {
		return
	}
	var req UpdateOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	var absent []string
	if req.CommissionPercent == nil {
		absent = append(absent, "commissionPercent")
	}
	if req.Version == nil {
		absent = append(absent, "version")
	}
	if len(absent) > 0 {
		failErr(c, missing(absent...))
		return
	}

	ovr, err := h.walletSvc.SetPharmacyOverride(c.Request.Context(), id, *req.CommissionPercent, *req.Version)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ovr)
}

// DeleteCommissionOverride godoc
// @ID          deleteCommissionOverride
// @Summary     Remove a pharmacy commission override
// @Description The expected version comes from ?version= or a JSON body {"version":n}. Afterwards the pharmacy resolves to the global percent.
// @Tags        Wallet
// @Accept      json
// @Produce     json
// @Param       id       path   int                               true   "Pharmacy ID"  minimum(1)
// @Param       version  query  int                               false  "Expected version"  minimum(1)
// @Param       body     body   handlers.DeleteOverrideRequest    false  "Expected version (when no query param)"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "No override"
// @Failure     409  {object}  handlers.ErrorResponse  "Version conflict (retry: refetch)"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/wallet/commission/pharmacies/{id} [delete]
func (h *Handlers) DeleteCommissionOverride(c *gin.Context) {
	id, valid := pathID(c, "pharmacy")
	if !valid {
		return
	}

	var version *int64
	if raw := c.Query("version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			failErr(c, &services.ValidationError{Fields: map[string]string{"version": "numeric"}})
			return
		}
		version = &v
	} else {
		var req DeleteOverrideRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badBody(c, err)
			return
		}
		version = req.Version
	}
	if version == nil {
		failErr(c, missing("version"))
		return
	}

	if err := h.walletSvc.RemoveOverride(c.Request.Context(), id, *version); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// GetEffectiveCommission godoc
// @ID          getEffectiveCommission
// @Summary     Resolve the commission applied to a pharmacy
// @Description Returns the override when one exists, else the global percent, with its source and version.
// @Tags        Wallet
// @Produce     json
// @Param       id   path      int  true  "Pharmacy ID"  minimum(1)
// @Success     200  {object}  domain.EffectiveCommission
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/wallet/commission/pharmacies/{id}/effective [get]
func (h *Handlers) GetEffectiveCommission(c *gin.Context) {
	id, valid := pathID(c, "pharmacy")
	if !valid {
		return
	}
	eff, err := h.walletSvc.EffectiveCommission(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, eff)
}
