// Package services – CommissionService
//
// This file implements the commission resolver: global wallet settings plus
// optional per-pharmacy commission overrides, both kept in the versioned
// record store. Every write is a compare-and-swap on the record version;
// a stale version surfaces as ErrVersionConflict and never changes state.
//
// Input is validated (go-playground/validator) before the store is touched,
// so a rejected request can never leave a partial write behind.
package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/observability"
	"github.com/tbourn/go-pharmacy-backend/internal/store"
)

const (
	settingsKey        = "wallet/settings"
	overrideKeyPrefix  = "wallet/commission/pharmacy/"
	settingsKindGlobal = "global"
	settingsKindOvr    = "override"
)

func overrideKey(pharmacyID uint64) string {
	return overrideKeyPrefix + strconv.FormatUint(pharmacyID, 10)
}

// SettingsInput is the mutable part of GlobalSettings.
type SettingsInput struct {
	Currency          string          `json:"currency"          validate:"required,iso4217"`
	CommissionPercent decimal.Decimal `json:"commissionPercent" validate:"decimal_gte=0,decimal_lte=100"`
	ConvenienceFee    decimal.Decimal `json:"convenienceFee"    validate:"decimal_gte=0"`
}

type overrideInput struct {
	PharmacyID        uint64          `json:"pharmacyId"        validate:"gt=0"`
	CommissionPercent decimal.Decimal `json:"commissionPercent" validate:"decimal_gte=0,decimal_lte=100"`
}

// stored shapes; the record version is the domain version.
type settingsRecord struct {
	Currency          string          `json:"currency"`
	CommissionPercent decimal.Decimal `json:"commissionPercent"`
	ConvenienceFee    decimal.Decimal `json:"convenienceFee"`
}

type overrideRecord struct {
	CommissionPercent decimal.Decimal `json:"commissionPercent"`
}

// PharmacyLookup reports whether a pharmacy exists. CommissionService uses
// it to refuse overrides for unknown pharmacies.
type PharmacyLookup interface {
	Exists(ctx context.Context, pharmacyID uint64) (bool, error)
}

// CommissionService resolves and edits commission settings.
type CommissionService struct {
	settings  store.Typed[settingsRecord]
	overrides store.Typed[overrideRecord]

	// Defaults are served at version 0 until settings are first saved.
	Defaults SettingsInput
	// Pharmacies is optional; nil skips the existence check.
	Pharmacies PharmacyLookup

	validate *validator.Validate
}

// NewCommissionService builds a CommissionService over st.
func NewCommissionService(st store.Store, defaults SettingsInput, pharmacies PharmacyLookup) *CommissionService {
	return &CommissionService{
		settings:   store.NewTyped[settingsRecord](st),
		overrides:  store.NewTyped[overrideRecord](st),
		Defaults:   defaults,
		Pharmacies: pharmacies,
		validate:   newValidator(),
	}
}

// newValidator returns a validator that reports json field names. Money
// and percentages are bounded with decimal_gte/decimal_lte, which compare
// in decimal rather than float64.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("decimal_gte", decimalBound(decimal.Decimal.GreaterThanOrEqual))
	_ = v.RegisterValidation("decimal_lte", decimalBound(decimal.Decimal.LessThanOrEqual))
	return v
}

// decimalBound adapts a decimal comparison to a validator tag whose param
// is the bound.
func decimalBound(cmp func(v, bound decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		return cmp(d, decimal.RequireFromString(fl.Param()))
	}
}

// GetGlobalSettings returns the stored settings, or the defaults at version
// 0 when none have been saved.
func (s *CommissionService) GetGlobalSettings(ctx context.Context) (domain.GlobalSettings, error) {
	ctx, span := observability.StartSpan(ctx, "CommissionService", "GetGlobalSettings")
	defer span.End()

	rec, ver, err := s.settings.Get(ctx, settingsKey)
	if errors.Is(err, store.ErrNotFound) {
		return domain.GlobalSettings{
			Currency:          s.Defaults.Currency,
			CommissionPercent: s.Defaults.CommissionPercent,
			ConvenienceFee:    s.Defaults.ConvenienceFee,
			Version:           0,
		}, nil
	}
	if err != nil {
		return domain.GlobalSettings{}, observability.RecordError(span, err)
	}
	return domain.GlobalSettings{
		Currency:          rec.Currency,
		CommissionPercent: rec.CommissionPercent,
		ConvenienceFee:    rec.ConvenienceFee,
		Version:           ver,
	}, nil
}

// SetGlobalSettings replaces the settings if expectedVersion is current.
func (s *CommissionService) SetGlobalSettings(ctx context.Context, in SettingsInput, expectedVersion int64) (domain.GlobalSettings, error) {
	ctx, span := observability.StartSpan(ctx, "CommissionService", "SetGlobalSettings",
		attribute.Int64("settings.expected_version", expectedVersion),
	)
	defer span.End()

	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := s.validate.Struct(in); err != nil {
		observability.SettingsWrites.WithLabelValues(settingsKindGlobal, "invalid").Inc()
		return domain.GlobalSettings{}, fromValidator(err)
	}
	if expectedVersion < 0 {
		observability.SettingsWrites.WithLabelValues(settingsKindGlobal, "invalid").Inc()
		return domain.GlobalSettings{}, invalid("version", "gte=0")
	}

	ver, err := s.settings.Put(ctx, settingsKey, settingsRecord{
		Currency:          in.Currency,
		CommissionPercent: in.CommissionPercent,
		ConvenienceFee:    in.ConvenienceFee,
	}, expectedVersion)
	if err != nil {
		return domain.GlobalSettings{}, observability.RecordError(span, s.writeErr(settingsKindGlobal, err))
	}
	observability.SettingsWrites.WithLabelValues(settingsKindGlobal, "ok").Inc()
	return domain.GlobalSettings{
		Currency:          in.Currency,
		CommissionPercent: in.CommissionPercent,
		ConvenienceFee:    in.ConvenienceFee,
		Version:           ver,
	}, nil
}

// GetOverride returns the override for pharmacyID or ErrOverrideNotFound.
func (s *CommissionService) GetOverride(ctx context.Context, pharmacyID uint64) (domain.PharmacyCommissionOverride, error) {
	ctx, span := observability.StartSpan(ctx, "CommissionService", "GetOverride",
		attribute.Int64("pharmacy.id", int64(pharmacyID)),
	)
	defer span.End()

	if pharmacyID == 0 {
		return domain.PharmacyCommissionOverride{}, invalid("pharmacyId", "gt=0")
	}
	rec, ver, err := s.overrides.Get(ctx, overrideKey(pharmacyID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.PharmacyCommissionOverride{}, ErrOverrideNotFound
	}
	if err != nil {
		return domain.PharmacyCommissionOverride{}, observability.RecordError(span, err)
	}
	return domain.PharmacyCommissionOverride{
		PharmacyID:        pharmacyID,
		CommissionPercent: rec.CommissionPercent,
		Version:           ver,
	}, nil
}

// SetPharmacyOverride creates (expectedVersion 0) or updates the override.
func (s *CommissionService) SetPharmacyOverride(ctx context.Context, pharmacyID uint64, percent decimal.Decimal, expectedVersion int64) (domain.PharmacyCommissionOverride, error) {
	ctx, span := observability.StartSpan(ctx, "CommissionService", "SetPharmacyOverride",
		attribute.Int64("pharmacy.id", int64(pharmacyID)),
		attribute.Int64("settings.expected_version", expectedVersion),
	)
	defer span.End()

	if err := s.validate.Struct(overrideInput{PharmacyID: pharmacyID, CommissionPercent: percent}); err != nil {
		observability.SettingsWrites.WithLabelValues(settingsKindOvr, "invalid").Inc()
		return domain.PharmacyCommissionOverride{}, fromValidator(err)
	}
	if expectedVersion < 0 {
		observability.SettingsWrites.WithLabelValues(settingsKindOvr, "invalid").Inc()
		return domain.PharmacyCommissionOverride{}, invalid("version", "gte=0")
	}
	if s.Pharmacies != nil {
		exists, err := s.Pharmacies.Exists(ctx, pharmacyID)
		if err != nil {
			return domain.PharmacyCommissionOverride{}, observability.RecordError(span, err)
		}
		if !exists {
			observability.SettingsWrites.WithLabelValues(settingsKindOvr, "not_found").Inc()
			return domain.PharmacyCommissionOverride{}, ErrPharmacyNotFound
		}
	}

	ver, err := s.overrides.Put(ctx, overrideKey(pharmacyID), overrideRecord{CommissionPercent: percent}, expectedVersion)
	if err != nil {
		return domain.PharmacyCommissionOverride{}, observability.RecordError(span, s.writeErr(settingsKindOvr, err))
	}
	observability.SettingsWrites.WithLabelValues(settingsKindOvr, "ok").Inc()
	return domain.PharmacyCommissionOverride{PharmacyID: pharmacyID, CommissionPercent: percent, Version: ver}, nil
}

// RemoveOverride deletes the override if expectedVersion is current.
// Resolution falls back to the global percent afterwards.
func (s *CommissionService) RemoveOverride(ctx context.Context, pharmacyID uint64, expectedVersion int64) error {
	ctx, span := observability.StartSpan(ctx, "CommissionService", "RemoveOverride",
		attribute.Int64("pharmacy.id", int64(pharmacyID)),
		attribute.Int64("settings.expected_version", expectedVersion),
	)
	defer span.End()

	if pharmacyID == 0 {
		return invalid("pharmacyId", "gt=0")
	}
	if expectedVersion < 1 {
		return invalid("version", "gte=1")
	}
	if _, err := s.overrides.Delete(ctx, overrideKey(pharmacyID), expectedVersion); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrOverrideNotFound
		}
		return observability.RecordError(span, s.writeErr(settingsKindOvr, err))
	}
	observability.SettingsWrites.WithLabelValues(settingsKindOvr, "ok").Inc()
	return nil
}

// EffectiveCommission reads the override first and falls back to the
// global settings.
func (s *CommissionService) EffectiveCommission(ctx context.Context, pharmacyID uint64) (domain.EffectiveCommission, error) {
	ctx, span := observability.StartSpan(ctx, "CommissionService", "EffectiveCommission",
		attribute.Int64("pharmacy.id", int64(pharmacyID)),
	)
	defer span.End()

	if pharmacyID == 0 {
		return domain.EffectiveCommission{}, invalid("pharmacyId", "gt=0")
	}
	global, err := s.GetGlobalSettings(ctx)
	if err != nil {
		return domain.EffectiveCommission{}, err
	}
	eff := domain.EffectiveCommission{
		PharmacyID:     pharmacyID,
		Percent:        global.CommissionPercent,
		Source:         domain.SourceGlobal,
		Version:        global.Version,
		Currency:       global.Currency,
		ConvenienceFee: global.ConvenienceFee,
	}

	ovr, err := s.GetOverride(ctx, pharmacyID)
	switch {
	case errors.Is(err, ErrOverrideNotFound):
		return eff, nil
	case err != nil:
		return domain.EffectiveCommission{}, err
	}
	eff.Percent = ovr.CommissionPercent
	eff.Source = domain.SourceOverride
	eff.Version = ovr.Version
	span.SetAttributes(attribute.String("commission.source", string(eff.Source)))
	return eff, nil
}

// writeErr maps store errors onto the service taxonomy and counts them.
func (s *CommissionService) writeErr(kind string, err error) error {
	if errors.Is(err, store.ErrConflict) {
		observability.SettingsWrites.WithLabelValues(kind, "conflict").Inc()
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return err
}
