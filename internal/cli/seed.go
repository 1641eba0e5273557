package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	httpapi "github.com/tbourn/go-pharmacy-backend/internal/http"
	"github.com/tbourn/go-pharmacy-backend/internal/repo"
	"github.com/tbourn/go-pharmacy-backend/internal/services"
)

// Fixture is the YAML seed format:
//
//	pharmacies:
//	  - {id: 1, name: Fort, lat: 6.9344, lng: 79.8428, status: ACTIVE}
//	prescriptions:
//	  - {id: 100, customerId: cust-1, pharmacyId: 1, status: ACCEPTED}
type Fixture struct {
	Pharmacies    []PharmacyFixture     `yaml:"pharmacies"`
	Prescriptions []PrescriptionFixture `yaml:"prescriptions"`
}

// PharmacyFixture is one directory entry.
type PharmacyFixture struct {
	ID     uint64  `yaml:"id"`
	Name   string  `yaml:"name"`
	Lat    float64 `yaml:"lat"`
	Lng    float64 `yaml:"lng"`
	Status string  `yaml:"status"`
}

// PrescriptionFixture is one prescription; status defaults to ACCEPTED.
type PrescriptionFixture struct {
	ID         uint64 `yaml:"id"`
	CustomerID string `yaml:"customerId"`
	PharmacyID uint64 `yaml:"pharmacyId"`
	Status     string `yaml:"status"`
}

// SeedReport counts what a seed run changed.
type SeedReport struct {
	Pharmacies           int
	PrescriptionsCreated int
	PrescriptionsSkipped int
}

// LoadFixture decodes a fixture, rejecting unknown keys so typos fail loudly.
func LoadFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f, nil
}

// Seed upserts every pharmacy through the directory service (same
// validation and name normalization as the admin API) and creates the
// prescriptions that do not exist yet. Existing prescriptions are left
// alone so seeding never undoes a reroute.
func Seed(ctx context.Context, db *gorm.DB, f Fixture) (SeedReport, error) {
	var rep SeedReport
	ph := httpapi.NewPharmacyService(db, nil)

	for _, p := range f.Pharmacies {
		if _, err := ph.Upsert(ctx, services.PharmacyInput{
			ID: p.ID, Name: p.Name, Lat: p.Lat, Lng: p.Lng, Status: domain.PharmacyStatus(p.Status),
		}); err != nil {
			return rep, fmt.Errorf("pharmacy %d: %w", p.ID, err)
		}
		rep.Pharmacies++
	}

	for _, rx := range f.Prescriptions {
		if rx.ID == 0 || strings.TrimSpace(rx.CustomerID) == "" || rx.PharmacyID == 0 {
			return rep, fmt.Errorf("prescription %d: id, customerId and pharmacyId are required", rx.ID)
		}
		st := domain.PrescriptionStatus(strings.ToUpper(strings.TrimSpace(rx.Status)))
		if st == "" {
			st = domain.PrescriptionAccepted
		}
		if !st.Valid() {
			return rep, fmt.Errorf("prescription %d: unknown status %q", rx.ID, rx.Status)
		}
		if _, err := ph.Get(ctx, rx.PharmacyID); err != nil {
			return rep, fmt.Errorf("prescription %d: %w", rx.ID, err)
		}

		_, err := repo.GetPrescription(ctx, db, rx.ID)
		switch {
		case err == nil:
			rep.PrescriptionsSkipped++
			continue
		case !errors.Is(err, repo.ErrNotFound):
			return rep, fmt.Errorf("prescription %d: %w", rx.ID, err)
		}
		if err := repo.CreatePrescription(ctx, db, &domain.Prescription{
			ID: rx.ID, CustomerID: rx.CustomerID, AssignedPharmacyID: rx.PharmacyID, Status: st,
		}); err != nil {
			return rep, fmt.Errorf("prescription %d: %w", rx.ID, err)
		}
		rep.PrescriptionsCreated++
	}
	return rep, nil
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load pharmacies and prescriptions from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()

			f, err := LoadFixture(fh)
			if err != nil {
				return err
			}
			db, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer closeDB(db)

			rep, err := Seed(cmd.Context(), db, f)
			if err != nil {
				return err
			}
			rootOpts.log.Info().
				Int("pharmacies", rep.Pharmacies).
				Int("prescriptions_created", rep.PrescriptionsCreated).
				Int("prescriptions_skipped", rep.PrescriptionsSkipped).
				Msg("seed complete")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pharmacies=%d prescriptions_created=%d prescriptions_skipped=%d\n",
				rep.Pharmacies, rep.PrescriptionsCreated, rep.PrescriptionsSkipped)
			return err
		},
	}
}
