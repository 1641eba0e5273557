// Package services – RerouteService
//
// This file implements the reroute coordinator. A reroute moves a
// prescription to another pharmacy and must be safe to retry over an
// unreliable network, so every submission runs through three guards:
//
//  1. the idempotency ledger (same key and body executes once, then replays),
//  2. a per-prescription lease (one reroute in flight per prescription),
//  3. a conditional update on the prescription version inside the
//     transaction that also writes the history entry and the ledger outcome.
//
// Business rejections (ineligible target, final status, unknown ids) are
// recorded as FAILED and replayed verbatim. Infrastructure failures release
// the pending entry so the same request can be retried as-is.
//
// Candidate listing is a read-only query over the in-memory geo index.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/geo"
	"github.com/tbourn/go-pharmacy-backend/internal/ledger"
	"github.com/tbourn/go-pharmacy-backend/internal/lock"
	"github.com/tbourn/go-pharmacy-backend/internal/observability"
)

const (
	maxIdempotencyKeyLen = 200
	maxReasonRunes       = 500
)

// PrescriptionRepo is the persistence contract required by RerouteService.
type PrescriptionRepo interface {
	GetPrescription(ctx context.Context, db *gorm.DB, id uint64) (*domain.Prescription, error)
	ReassignPrescription(ctx context.Context, db *gorm.DB, id uint64, fromVersion int64, pharmacyID uint64, status domain.PrescriptionStatus) (bool, error)
	CreateRerouteHistory(ctx context.Context, db *gorm.DB, prescriptionID, fromID, toID uint64, reason, idemKey string) (*domain.RerouteHistory, error)
	CountRerouteHistory(ctx context.Context, db *gorm.DB, prescriptionID uint64) (int64, error)
	ListRerouteHistoryPage(ctx context.Context, db *gorm.DB, prescriptionID uint64, offset, limit int) ([]domain.RerouteHistory, error)
}

// RerouteRequest is a single reroute submission.
type RerouteRequest struct {
	PrescriptionID   uint64
	TargetPharmacyID uint64
	Reason           string
	IdempotencyKey   string
}

// RerouteResult is the committed outcome. It is also the snapshot stored in
// the ledger, so a replay returns exactly these fields.
type RerouteResult struct {
	Prescription domain.Prescription   `json:"prescription"`
	History      domain.RerouteHistory `json:"history"`

	// Replayed is true when the result was answered from the ledger.
	Replayed bool `json:"-"`
}

// CandidateQuery is the caller-facing candidate filter. Statuses default
// to ACTIVE; Limit defaults to the service default and is clamped. A nil
// RadiusKm is unbounded; zero keeps only pharmacies at the origin.
type CandidateQuery struct {
	ExcludePharmacyID uint64
	Origin            *geo.Point
	RadiusKm          *float64
	Statuses          []domain.PharmacyStatus
	Limit             int
	Offset            int
}

// RerouteService coordinates prescription reroutes and candidate search.
type RerouteService struct {
	DB         *gorm.DB
	Repo       PrescriptionRepo
	Pharmacies PharmacyRepo
	Index      *geo.Index
	Ledger     *ledger.Ledger
	Locks      lock.Locker

	CandidateLimit    int
	CandidateMaxLimit int
}

// NewRerouteService wires a RerouteService with default candidate limits.
func NewRerouteService(db *gorm.DB, rx PrescriptionRepo, ph PharmacyRepo, idx *geo.Index, l *ledger.Ledger, locks lock.Locker) *RerouteService {
	return &RerouteService{
		DB:                db,
		Repo:              rx,
		Pharmacies:        ph,
		Index:             idx,
		Ledger:            l,
		Locks:             locks,
		CandidateLimit:    20,
		CandidateMaxLimit: 100,
	}
}

func rerouteScope(prescriptionID uint64) string {
	return "reroute:" + strconv.FormatUint(prescriptionID, 10)
}

func prescriptionLockKey(prescriptionID uint64) string {
	return "prescription:" + strconv.FormatUint(prescriptionID, 10)
}

// fingerprint hashes the fields that define "the same request". The
// prescription id is already part of the ledger scope.
func fingerprint(req RerouteRequest) string {
	b, _ := json.Marshal(struct {
		Target uint64 `json:"targetPharmacyId"`
		Reason string `json:"reason"`
	}{req.TargetPharmacyID, req.Reason})
	return ledger.HashRequest(b)
}

// GetPrescription returns a prescription or ErrPrescriptionNotFound.
func (s *RerouteService) GetPrescription(ctx context.Context, id uint64) (*domain.Prescription, error) {
	ctx, span := observability.StartSpan(ctx, "RerouteService", "GetPrescription",
		attribute.Int64("prescription.id", int64(id)),
	)
	defer span.End()

	if id == 0 {
		return nil, invalid("prescriptionId", "gt=0")
	}
	p, err := s.Repo.GetPrescription(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, observability.RecordError(span, err)
	}
	return p, nil
}

// Candidates lists pharmacies a prescription could move to. The current
// assignment and ExcludePharmacyID are never returned.
func (s *RerouteService) Candidates(ctx context.Context, prescriptionID uint64, q CandidateQuery) (geo.Page, error) {
	ctx, span := observability.StartSpan(ctx, "RerouteService", "Candidates",
		attribute.Int64("prescription.id", int64(prescriptionID)),
		attribute.Int("limit", q.Limit),
		attribute.Int("offset", q.Offset),
	)
	defer span.End()
	if q.RadiusKm != nil {
		span.SetAttributes(attribute.Float64("geo.radius_km", *q.RadiusKm))
	}

	if q.Limit < 0 {
		return geo.Page{}, invalid("limit", "gte=0")
	}
	if q.Offset < 0 {
		return geo.Page{}, invalid("offset", "gte=0")
	}
	if q.RadiusKm != nil && !(*q.RadiusKm >= 0) {
		return geo.Page{}, invalid("radiusKm", "gte=0")
	}
	for _, st := range q.Statuses {
		if !st.Valid() {
			return geo.Page{}, invalid("status", "oneof=ACTIVE SUSPENDED CLOSED")
		}
	}

	rx, err := s.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return geo.Page{}, err
	}

	limit := q.Limit
	if limit == 0 {
		limit = s.CandidateLimit
	}
	if s.CandidateMaxLimit > 0 && limit > s.CandidateMaxLimit {
		limit = s.CandidateMaxLimit
	}
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = []domain.PharmacyStatus{domain.PharmacyActive}
	}
	exclude := map[uint64]struct{}{rx.AssignedPharmacyID: {}}
	if q.ExcludePharmacyID != 0 {
		exclude[q.ExcludePharmacyID] = struct{}{}
	}

	timer := prometheus.NewTimer(observability.GeoQueryDuration)
	page, err := s.Index.Query(geo.Query{
		Origin:   q.Origin,
		RadiusKm: q.RadiusKm,
		Exclude:  exclude,
		Statuses: statuses,
		Limit:    limit,
		Offset:   q.Offset,
	})
	timer.ObserveDuration()
	if errors.Is(err, geo.ErrInvalidQuery) {
		return geo.Page{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err != nil {
		return geo.Page{}, observability.RecordError(span, err)
	}
	span.SetAttributes(attribute.Int("geo.total", page.Total))
	return page, nil
}

// Reroute moves a prescription to req.TargetPharmacyID at most once per
// idempotency key.
func (s *RerouteService) Reroute(ctx context.Context, req RerouteRequest) (*RerouteResult, error) {
	ctx, span := observability.StartSpan(ctx, "RerouteService", "Reroute",
		attribute.Int64("prescription.id", int64(req.PrescriptionID)),
		attribute.Int64("pharmacy.target_id", int64(req.TargetPharmacyID)),
	)
	defer span.End()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validateReroute(req); err != nil {
		observability.RerouteOutcomes.WithLabelValues("invalid").Inc()
		return nil, err
	}

	scope := rerouteScope(req.PrescriptionID)
	d, err := s.Ledger.Begin(ctx, scope, req.IdempotencyKey, fingerprint(req))
	if err != nil {
		return nil, observability.RecordError(span, err)
	}
	observability.LedgerDecisions.WithLabelValues(d.Kind.String()).Inc()
	span.SetAttributes(attribute.String("ledger.decision", d.Kind.String()))

	switch d.Kind {
	case ledger.KeyReuse:
		observability.RerouteOutcomes.WithLabelValues("key_reuse").Inc()
		return nil, ErrIdempotencyKeyReuse
	case ledger.AlreadyPending:
		observability.RerouteOutcomes.WithLabelValues("in_flight").Inc()
		return nil, ErrRequestInFlight
	case ledger.Replay:
		observability.RerouteOutcomes.WithLabelValues("replayed").Inc()
		return replay(d.Record)
	}

	lease, err := s.Locks.Acquire(ctx, prescriptionLockKey(req.PrescriptionID))
	if err != nil {
		s.release(ctx, d.Lease)
		if errors.Is(err, lock.ErrLocked) {
			observability.RerouteOutcomes.WithLabelValues("concurrent").Inc()
			return nil, ErrConcurrentRerouteInProgress
		}
		return nil, observability.RecordError(span, err)
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			zerolog.Ctx(ctx).Warn().Err(rerr).Uint64("prescription_id", req.PrescriptionID).Msg("release reroute lock")
		}
	}()

	res, err := s.apply(ctx, req, d.Lease)
	if err == nil {
		observability.RerouteOutcomes.WithLabelValues("committed").Inc()
		return res, nil
	}

	if code := failureCode(err); code != "" {
		observability.RerouteOutcomes.WithLabelValues("rejected").Inc()
		if ferr := s.Ledger.Fail(context.WithoutCancel(ctx), d.Lease, code, err.Error()); ferr != nil {
			zerolog.Ctx(ctx).Warn().Err(ferr).Str("scope", scope).Msg("record failed reroute")
		}
		return nil, err
	}
	if errors.Is(err, ledger.ErrLeaseLost) {
		observability.RerouteOutcomes.WithLabelValues("in_flight").Inc()
		return nil, fmt.Errorf("%w: %v", ErrRequestInFlight, err)
	}

	s.release(ctx, d.Lease)
	if errors.Is(err, ErrConcurrentRerouteInProgress) {
		observability.RerouteOutcomes.WithLabelValues("concurrent").Inc()
		return nil, err
	}
	observability.RerouteOutcomes.WithLabelValues("error").Inc()
	return nil, observability.RecordError(span, err)
}

func validateReroute(req RerouteRequest) error {
	fields := map[string]string{}
	if req.PrescriptionID == 0 {
		fields["prescriptionId"] = "gt=0"
	}
	if req.TargetPharmacyID == 0 {
		fields["targetPharmacyId"] = "gt=0"
	}
	switch {
	case req.IdempotencyKey == "":
		fields["idempotencyKey"] = "required"
	case len(req.IdempotencyKey) > maxIdempotencyKeyLen:
		fields["idempotencyKey"] = "max=" + strconv.Itoa(maxIdempotencyKeyLen)
	}
	if utf8.RuneCountInString(req.Reason) > maxReasonRunes {
		fields["reason"] = "max=" + strconv.Itoa(maxReasonRunes)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// apply runs validation and the mutation in one transaction so the
// eligibility check and the write see the same snapshot.
func (s *RerouteService) apply(ctx context.Context, req RerouteRequest, l ledger.Lease) (*RerouteResult, error) {
	var res *RerouteResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rx, err := s.Repo.GetPrescription(ctx, tx, req.PrescriptionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPrescriptionNotFound
		}
		if err != nil {
			return err
		}
		if !rx.Status.Reroutable() {
			return fmt.Errorf("%w: status %s", ErrNotReroutable, rx.Status)
		}

		target, err := s.Pharmacies.GetPharmacy(ctx, tx, req.TargetPharmacyID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPharmacyNotFound
		}
		if err != nil {
			return err
		}
		if target.ID == rx.AssignedPharmacyID {
			return fmt.Errorf("%w: pharmacy %d is already assigned", ErrIneligibleTarget, target.ID)
		}
		if target.Status != domain.PharmacyActive {
			return fmt.Errorf("%w: pharmacy %d is %s", ErrIneligibleTarget, target.ID, target.Status)
		}

		ok, err := s.Repo.ReassignPrescription(ctx, tx, rx.ID, rx.Version, target.ID, domain.PrescriptionPending)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentRerouteInProgress
		}
		h, err := s.Repo.CreateRerouteHistory(ctx, tx, rx.ID, rx.AssignedPharmacyID, target.ID, req.Reason, req.IdempotencyKey)
		if err != nil {
			return err
		}
		updated, err := s.Repo.GetPrescription(ctx, tx, rx.ID)
		if err != nil {
			return err
		}

		out := &RerouteResult{Prescription: *updated, History: *h}
		snap, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if err := s.Ledger.Commit(ctx, tx, l, snap); err != nil {
			return err
		}
		res = out
		return nil
	})
	return res, err
}

// release drops the pending entry; failures only cost the caller a wait
// for the pending timeout.
func (s *RerouteService) release(ctx context.Context, l ledger.Lease) {
	if err := s.Ledger.Release(context.WithoutCancel(ctx), l); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("scope", l.Scope).Msg("release idempotency entry")
	}
}

// replay rebuilds the original answer from a completed ledger record.
func replay(rec *domain.Idempotency) (*RerouteResult, error) {
	if rec.Outcome == domain.OutcomeFailed {
		return nil, replayedFailure(rec.ErrorCode, rec.ErrorMessage)
	}
	var out RerouteResult
	if err := json.Unmarshal(rec.Snapshot, &out); err != nil {
		return nil, fmt.Errorf("decode reroute snapshot: %w", err)
	}
	out.Replayed = true
	return &out, nil
}

// HistoryPage returns a page of reroute history, oldest first.
func (s *RerouteService) HistoryPage(ctx context.Context, prescriptionID uint64, page, pageSize int) ([]domain.RerouteHistory, int64, error) {
	ctx, span := observability.StartSpan(ctx, "RerouteService", "HistoryPage",
		attribute.Int64("prescription.id", int64(prescriptionID)),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if _, err := s.GetPrescription(ctx, prescriptionID); err != nil {
		return nil, 0, err
	}

	total, err := s.Repo.CountRerouteHistory(ctx, s.DB, prescriptionID)
	if err != nil {
		return nil, 0, observability.RecordError(span, err)
	}
	if total == 0 {
		return []domain.RerouteHistory{}, 0, nil
	}
	items, err := s.Repo.ListRerouteHistoryPage(ctx, s.DB, prescriptionID, (page-1)*pageSize, pageSize)
	return items, total, err
}
