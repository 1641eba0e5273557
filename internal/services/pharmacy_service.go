// Package services – PharmacyService
//
// This file implements PharmacyService, which keeps the local pharmacy
// directory and the in-memory geo index in step. The database is the source
// of truth: every write lands there first and is then published to the
// index, and LoadIndex rebuilds the index from the table at startup.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/geo"
	"github.com/tbourn/go-pharmacy-backend/internal/observability"
)

// PharmacyRepo is the persistence contract for the pharmacy directory.
type PharmacyRepo interface {
	GetPharmacy(ctx context.Context, db *gorm.DB, id uint64) (*domain.Pharmacy, error)
	ListPharmacies(ctx context.Context, db *gorm.DB) ([]domain.Pharmacy, error)
	UpsertPharmacy(ctx context.Context, db *gorm.DB, p *domain.Pharmacy) error
	UpdatePharmacyStatus(ctx context.Context, db *gorm.DB, id uint64, status domain.PharmacyStatus) (*domain.Pharmacy, error)
}

// PharmacyInput is a full directory entry as received from upstream.
type PharmacyInput struct {
	ID     uint64                `json:"id"     validate:"gt=0"`
	Name   string                `json:"name"   validate:"required,max=255"`
	Lat    float64               `json:"lat"    validate:"gte=-90,lte=90"`
	Lng    float64               `json:"lng"    validate:"gte=-180,lte=180"`
	Status domain.PharmacyStatus `json:"status" validate:"required,oneof=ACTIVE SUSPENDED CLOSED"`
}

// PharmacyService manages the pharmacy directory.
type PharmacyService struct {
	DB    *gorm.DB
	Repo  PharmacyRepo
	Index *geo.Index

	validate *validator.Validate

	// publishMu orders index publishes; each one re-reads the committed row.
	publishMu sync.Mutex
}

// NewPharmacyService constructs a PharmacyService.
func NewPharmacyService(db *gorm.DB, r PharmacyRepo, idx *geo.Index) *PharmacyService {
	return &PharmacyService{DB: db, Repo: r, Index: idx, validate: newValidator()}
}

// normalizeName applies NFC and collapses runs of whitespace.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Get returns a pharmacy or ErrPharmacyNotFound.
func (s *PharmacyService) Get(ctx context.Context, id uint64) (*domain.Pharmacy, error) {
	if id == 0 {
		return nil, invalid("pharmacyId", "gt=0")
	}
	p, err := s.Repo.GetPharmacy(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPharmacyNotFound
	}
	return p, err
}

// Exists reports whether pharmacy id is in the directory.
func (s *PharmacyService) Exists(ctx context.Context, id uint64) (bool, error) {
	_, err := s.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrPharmacyNotFound):
		return false, nil
	}
	return false, err
}

// Upsert validates in, stores it and publishes it to the geo index.
func (s *PharmacyService) Upsert(ctx context.Context, in PharmacyInput) (*domain.Pharmacy, error) {
	ctx, span := observability.StartSpan(ctx, "PharmacyService", "Upsert",
		attribute.Int64("pharmacy.id", int64(in.ID)),
	)
	defer span.End()

	in.Name = normalizeName(in.Name)
	in.Status = domain.PharmacyStatus(strings.ToUpper(strings.TrimSpace(string(in.Status))))
	if err := s.validate.Struct(in); err != nil {
		return nil, fromValidator(err)
	}

	p := &domain.Pharmacy{ID: in.ID, Name: in.Name, Lat: in.Lat, Lng: in.Lng, Status: in.Status}
	if err := s.Repo.UpsertPharmacy(ctx, s.DB, p); err != nil {
		return nil, observability.RecordError(span, err)
	}
	if err := s.publish(ctx, p.ID); err != nil {
		return nil, observability.RecordError(span, err)
	}
	return p, nil
}

// SetStatus changes the operating status of a pharmacy. Suspending a
// pharmacy takes effect for reroutes immediately since they re-read the
// row; candidate lists follow once the index is updated here.
func (s *PharmacyService) SetStatus(ctx context.Context, id uint64, status domain.PharmacyStatus) (*domain.Pharmacy, error) {
	ctx, span := observability.StartSpan(ctx, "PharmacyService", "SetStatus",
		attribute.Int64("pharmacy.id", int64(id)),
		attribute.String("pharmacy.status", string(status)),
	)
	defer span.End()

	if id == 0 {
		return nil, invalid("pharmacyId", "gt=0")
	}
	status = domain.PharmacyStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, invalid("status", "oneof=ACTIVE SUSPENDED CLOSED")
	}

	p, err := s.Repo.UpdatePharmacyStatus(ctx, s.DB, id, status)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPharmacyNotFound
	}
	if err != nil {
		return nil, observability.RecordError(span, err)
	}
	if err := s.publish(ctx, p.ID); err != nil {
		return nil, observability.RecordError(span, err)
	}
	return p, nil
}

// LoadIndex replaces the geo index contents with the pharmacies table and
// returns the ids that were skipped for invalid coordinates.
func (s *PharmacyService) LoadIndex(ctx context.Context) ([]uint64, error) {
	ctx, span := observability.StartSpan(ctx, "PharmacyService", "LoadIndex")
	defer span.End()

	rows, err := s.Repo.ListPharmacies(ctx, s.DB)
	if err != nil {
		return nil, observability.RecordError(span, err)
	}
	sites := make([]geo.Site, 0, len(rows))
	for _, p := range rows {
		sites = append(sites, siteOf(p))
	}
	skipped := s.Index.Load(sites)
	observability.GeoIndexSize.Set(float64(s.Index.Len()))
	span.SetAttributes(
		attribute.Int("geo.loaded", s.Index.Len()),
		attribute.Int("geo.skipped", len(skipped)),
	)
	return skipped, nil
}

// publish copies the committed row for id into the index. Two writers can
// commit in one order and reach here in the other, so the row is read again
// under publishMu: whichever publish runs last sees the latest commit.
func (s *PharmacyService) publish(ctx context.Context, id uint64) error {
	if s.Index == nil {
		return nil
	}
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	p, err := s.Repo.GetPharmacy(ctx, s.DB, id)
	if err != nil {
		return err
	}
	if err := s.Index.Upsert(siteOf(*p)); err != nil {
		return err
	}
	observability.GeoIndexSize.Set(float64(s.Index.Len()))
	return nil
}

func siteOf(p domain.Pharmacy) geo.Site {
	return geo.Site{
		ID:       p.ID,
		Name:     p.Name,
		Location: geo.Point{Lat: p.Lat, Lng: p.Lng},
		Status:   p.Status,
	}
}
