package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/services"
)

func TestWalletSettings_DefaultsThenCASUpdates(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/admin/wallet/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET settings: %d", w.Code)
	}
	gs := decode[domain.GlobalSettings](t, w)
	if gs.Version != 0 || gs.Currency != "LKR" || gs.CommissionPercent.String() != "10" {
		t.Fatalf("defaults: %+v", gs)
	}
	if got := w.Header().Get("ETag"); got != `W/"settings:0"` {
		t.Fatalf("ETag=%q", got)
	}

	w = e.do(http.MethodPut, "/admin/wallet/settings", `{"currency":"usd","commissionPercent":12.5,"convenienceFee":"99.90","version":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("first PUT: %d %s", w.Code, w.Body.String())
	}
	gs = decode[domain.GlobalSettings](t, w)
	if gs.Version != 1 || gs.Currency != "USD" || gs.CommissionPercent.String() != "12.5" || gs.ConvenienceFee.String() != "99.9" {
		t.Fatalf("after PUT: %+v", gs)
	}

	// A stale writer loses and nothing changes.
	w = e.do(http.MethodPut, "/admin/wallet/settings", `{"currency":"EUR","commissionPercent":1,"convenienceFee":0,"version":0}`)
	er := expectError(t, w, http.StatusConflict, ErrCodeVersionConflict, RetryRefetch)
	if er.Message == "" {
		t.Fatalf("conflict message empty")
	}
	gs = decode[domain.GlobalSettings](t, e.do(http.MethodGet, "/admin/wallet/settings", ""))
	if gs.Version != 1 || gs.Currency != "USD" {
		t.Fatalf("conflict must not apply: %+v", gs)
	}
}

func TestWalletSettings_RejectsBadInput(t *testing.T) {
	e := newEnv(t)

	expectError(t, e.do(http.MethodPut, "/admin/wallet/settings", `{"currency":`), http.StatusBadRequest, ErrCodeBadRequest, RetryNever)

	er := expectError(t, e.do(http.MethodPut, "/admin/wallet/settings", `{"currency":"LKR"}`), http.StatusBadRequest, ErrCodeValidation, RetryNever)
	for _, f := range []string{"commissionPercent", "convenienceFee", "version"} {
		if er.Fields[f] != "required" {
			t.Fatalf("expected %s required, got %+v", f, er.Fields)
		}
	}

	er = expectError(t, e.do(http.MethodPut, "/admin/wallet/settings", `{"currency":"LKR","commissionPercent":101,"convenienceFee":-1,"version":0}`), http.StatusBadRequest, ErrCodeValidation, RetryNever)
	if er.Fields["commissionPercent"] == "" || er.Fields["convenienceFee"] == "" {
		t.Fatalf("fields: %+v", er.Fields)
	}

	er = expectError(t, e.do(http.MethodPut, "/admin/wallet/settings", `{"currency":"XXY","commissionPercent":5,"convenienceFee":0,"version":0}`), http.StatusBadRequest, ErrCodeValidation, RetryNever)
	if er.Fields["currency"] == "" {
		t.Fatalf("currency must be flagged: %+v", er.Fields)
	}
}

func TestCommissionOverride_Lifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.ph.Upsert(ctx, services.PharmacyInput{ID: 5, Name: "Nugegoda", Lat: 6.87, Lng: 79.89, Status: domain.PharmacyActive}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	const path = "/admin/wallet/commission/pharmacies/5"

	expectError(t, e.do(http.MethodGet, path, ""), http.StatusNotFound, ErrCodeOverrideNotFound, RetryNever)
	expectError(t, e.do(http.MethodPut, "/admin/wallet/commission/pharmacies/99", `{"commissionPercent":5,"version":0}`), http.StatusNotFound, ErrCodePharmacyNotFound, RetryNever)
	expectError(t, e.do(http.MethodGet, "/admin/wallet/commission/pharmacies/abc", ""), http.StatusBadRequest, ErrCodeValidation, RetryNever)

	w := e.do(http.MethodPut, path, `{"commissionPercent":7.5,"version":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create override: %d %s", w.Code, w.Body.String())
	}
	if ovr := decode[domain.PharmacyCommissionOverride](t, w); ovr.Version != 1 || ovr.PharmacyID != 5 {
		t.Fatalf("override: %+v", ovr)
	}

	w = e.do(http.MethodGet, path, "")
	if w.Code != http.StatusOK || w.Header().Get("ETag") != `W/"override:5:1"` {
		t.Fatalf("GET override: %d etag=%q", w.Code, w.Header().Get("ETag"))
	}

	eff := decode[domain.EffectiveCommission](t, e.do(http.MethodGet, path+"/effective", ""))
	if eff.Source != domain.SourceOverride || eff.Percent.String() != "7.5" || eff.Currency != "LKR" {
		t.Fatalf("effective: %+v", eff)
	}

	expectError(t, e.do(http.MethodPut, path, `{"commissionPercent":8}`), http.StatusBadRequest, ErrCodeValidation, RetryNever)
	expectError(t, e.do(http.MethodDelete, path, ""), http.StatusBadRequest, ErrCodeValidation, RetryNever)
	expectError(t, e.do(http.MethodDelete, path+"?version=abc", ""), http.StatusBadRequest, ErrCodeValidation, RetryNever)
	expectError(t, e.do(http.MethodDelete, path+"?version=7", ""), http.StatusConflict, ErrCodeVersionConflict, RetryRefetch)

	// Version from the body when the query param is absent.
	if w := e.do(http.MethodDelete, path, `{"version":1}`); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	expectError(t, e.do(http.MethodDelete, path+"?version=2", ""), http.StatusNotFound, ErrCodeOverrideNotFound, RetryNever)

	eff = decode[domain.EffectiveCommission](t, e.do(http.MethodGet, path+"/effective", ""))
	if eff.Source != domain.SourceGlobal || eff.Percent.String() != "10" || eff.Version != 0 {
		t.Fatalf("effective after delete: %+v", eff)
	}

	// Recreating after a delete continues the version sequence.
	w = e.do(http.MethodPut, path, `{"commissionPercent":6,"version":0}`)
	if ovr := decode[domain.PharmacyCommissionOverride](t, w); w.Code != http.StatusOK || ovr.Version != 3 {
		t.Fatalf("recreate: %d %+v", w.Code, ovr)
	}
}
