package geo

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

var colombo = Point{Lat: 6.9271, Lng: 79.8612}

func randomSites(n int, center Point, spreadDeg float64, seed int64) []Site {
	r := rand.New(rand.NewSource(seed))
	statuses := []domain.PharmacyStatus{domain.PharmacyActive, domain.PharmacyActive, domain.PharmacySuspended, domain.PharmacyClosed}
	out := make([]Site, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Site{
			ID:   uint64(i + 1),
			Name: "pharmacy",
			Location: Point{
				Lat: center.Lat + (r.Float64()*2-1)*spreadDeg,
				Lng: center.Lng + (r.Float64()*2-1)*spreadDeg,
			},
			Status: statuses[r.Intn(len(statuses))],
		})
	}
	return out
}

func TestDistanceKm_KnownValues(t *testing.T) {
	if d := DistanceKm(colombo, colombo); d != 0 {
		t.Fatalf("same point distance = %v", d)
	}
	// One degree of latitude is roughly 111km.
	d := DistanceKm(Point{Lat: 0, Lng: 0}, Point{Lat: 1, Lng: 0})
	if d < 110.5 || d > 112 {
		t.Fatalf("1 degree latitude = %v km", d)
	}
}

func TestQuery_RadiusNeverExceededAndSorted(t *testing.T) {
	idx := New(WithCellDegrees(0.02))
	idx.Load(randomSites(2000, colombo, 0.2, 7))

	page, err := idx.Query(Query{Origin: &colombo, RadiusKm: Radius(5)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Candidates) == 0 {
		t.Fatalf("expected some candidates within 5km")
	}
	prev := -1.0
	for _, c := range page.Candidates {
		if c.DistanceKm == nil {
			t.Fatalf("distance missing for %d", c.PharmacyID)
		}
		d := *c.DistanceKm
		if d > 5 {
			t.Fatalf("candidate %d at %.4fkm exceeds radius", c.PharmacyID, d)
		}
		if d < prev {
			t.Fatalf("distances not monotonic: %.6f after %.6f", d, prev)
		}
		if got := DistanceKm(colombo, c.Location); got != d {
			t.Fatalf("reported distance %.6f != recomputed %.6f", d, got)
		}
		prev = d
	}
}

func TestQuery_GridMatchesFullScan(t *testing.T) {
	sites := randomSites(1500, colombo, 0.3, 11)
	idx := New(WithCellDegrees(0.01))
	idx.Load(sites)

	for _, r := range []float64{0.5, 1, 3, 5, 12} {
		page, err := idx.Query(Query{Origin: &colombo, RadiusKm: Radius(r)})
		if err != nil {
			t.Fatalf("query r=%v: %v", r, err)
		}
		var want []uint64
		for _, s := range sites {
			if DistanceKm(colombo, s.Location) <= r {
				want = append(want, s.ID)
			}
		}
		if len(want) != page.Total {
			t.Fatalf("r=%v: grid found %d, full scan %d", r, page.Total, len(want))
		}
		got := make([]uint64, 0, len(page.Candidates))
		for _, c := range page.Candidates {
			got = append(got, c.PharmacyID)
		}
		sort.Slice(got, func(a, b int) bool { return got[a] < got[b] })
		sort.Slice(want, func(a, b int) bool { return want[a] < want[b] })
		for k := range want {
			if got[k] != want[k] {
				t.Fatalf("r=%v: mismatch at %d: %d vs %d", r, k, got[k], want[k])
			}
		}
	}
}

func TestQuery_ExcludeAndStatusFilter(t *testing.T) {
	idx := New()
	idx.Load([]Site{
		{ID: 42, Name: "excluded", Location: Point{Lat: 6.9275, Lng: 79.8615}, Status: domain.PharmacyActive},
		{ID: 7, Name: "suspended", Location: Point{Lat: 6.9280, Lng: 79.8620}, Status: domain.PharmacySuspended},
		{ID: 8, Name: "closed", Location: Point{Lat: 6.9290, Lng: 79.8600}, Status: domain.PharmacyClosed},
		{ID: 9, Name: "near", Location: Point{Lat: 6.9300, Lng: 79.8630}, Status: domain.PharmacyActive},
		{ID: 10, Name: "far", Location: Point{Lat: 7.2906, Lng: 80.6337}, Status: domain.PharmacyActive},
	})

	page, err := idx.Query(Query{
		Origin:   &colombo,
		RadiusKm: Radius(3),
		Exclude:  map[uint64]struct{}{42: {}},
		Statuses: []domain.PharmacyStatus{domain.PharmacyActive},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 || page.Candidates[0].PharmacyID != 9 {
		t.Fatalf("unexpected candidates: %+v", page.Candidates)
	}
	for _, c := range page.Candidates {
		if c.PharmacyID == 42 || c.Status == domain.PharmacySuspended {
			t.Fatalf("ineligible candidate returned: %+v", c)
		}
	}
}

func TestQuery_NoOriginOrdersByID(t *testing.T) {
	idx := New()
	idx.Load([]Site{
		{ID: 30, Location: Point{Lat: 1, Lng: 1}, Status: domain.PharmacyActive},
		{ID: 10, Location: Point{Lat: 50, Lng: 50}, Status: domain.PharmacyActive},
		{ID: 20, Location: Point{Lat: -10, Lng: 3}, Status: domain.PharmacyActive},
	})
	page, err := idx.Query(Query{RadiusKm: Radius(1)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("radius without origin must be ignored, got total=%d", page.Total)
	}
	for k, want := range []uint64{10, 20, 30} {
		c := page.Candidates[k]
		if c.PharmacyID != want || c.DistanceKm != nil {
			t.Fatalf("pos %d: %+v", k, c)
		}
	}
}

func TestQuery_PaginationIsStable(t *testing.T) {
	idx := New()
	var sites []Site
	// Equidistant ring: ties broken by id.
	for i := 1; i <= 10; i++ {
		sites = append(sites, Site{ID: uint64(i), Location: Point{Lat: colombo.Lat, Lng: colombo.Lng}, Status: domain.PharmacyActive})
	}
	idx.Load(sites)

	var seen []uint64
	for off := 0; off < 12; off += 4 {
		page, err := idx.Query(Query{Origin: &colombo, Limit: 4, Offset: off})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if page.Total != 10 {
			t.Fatalf("total = %d", page.Total)
		}
		for _, c := range page.Candidates {
			seen = append(seen, c.PharmacyID)
		}
	}
	if len(seen) != 10 {
		t.Fatalf("pages covered %d sites", len(seen))
	}
	for k, id := range seen {
		if id != uint64(k+1) {
			t.Fatalf("tie order broken at %d: %v", k, seen)
		}
	}

	page, _ := idx.Query(Query{Origin: &colombo, Offset: 50})
	if page.Candidates == nil || len(page.Candidates) != 0 {
		t.Fatalf("offset past end must yield empty, non-nil page")
	}
}

func TestQuery_NearPoleAndAntimeridianFallBackToFullScan(t *testing.T) {
	idx := New(WithCellDegrees(0.5))
	idx.Load([]Site{
		{ID: 1, Location: Point{Lat: 89.95, Lng: 10}, Status: domain.PharmacyActive},
		{ID: 2, Location: Point{Lat: 89.95, Lng: -170}, Status: domain.PharmacyActive},
		{ID: 3, Location: Point{Lat: 0, Lng: 179.99}, Status: domain.PharmacyActive},
		{ID: 4, Location: Point{Lat: 0, Lng: -179.99}, Status: domain.PharmacyActive},
	})

	pole := Point{Lat: 89.99, Lng: 0}
	page, err := idx.Query(Query{Origin: &pole, RadiusKm: Radius(50)})
	if err != nil || page.Total != 2 {
		t.Fatalf("pole query: total=%d err=%v", page.Total, err)
	}

	dateline := Point{Lat: 0, Lng: 180}
	page, err = idx.Query(Query{Origin: &dateline, RadiusKm: Radius(5)})
	if err != nil || page.Total != 2 {
		t.Fatalf("antimeridian query: total=%d err=%v", page.Total, err)
	}
}

func TestQuery_ZeroRadiusIsABound(t *testing.T) {
	london := Point{Lat: 51.5072, Lng: -0.1276}
	idx := New()
	idx.Load([]Site{
		{ID: 1, Name: "here", Location: colombo, Status: domain.PharmacyActive},
		{ID: 2, Name: "london", Location: london, Status: domain.PharmacyActive},
		{ID: 3, Name: "next door", Location: Point{Lat: colombo.Lat + 0.001, Lng: colombo.Lng}, Status: domain.PharmacyActive},
	})

	page, err := idx.Query(Query{Origin: &colombo, RadiusKm: Radius(0)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 || page.Candidates[0].PharmacyID != 1 || *page.Candidates[0].DistanceKm != 0 {
		t.Fatalf("zero radius: %+v", page)
	}

	page, err = idx.Query(Query{Origin: &colombo})
	if err != nil || page.Total != 3 {
		t.Fatalf("no radius: total=%d err=%v", page.Total, err)
	}
}

func TestQuery_InvalidInput(t *testing.T) {
	idx := New()
	bad := Point{Lat: math.NaN(), Lng: 0}
	cases := []Query{
		{Origin: &bad},
		{Origin: &Point{Lat: 91, Lng: 0}},
		{Origin: &colombo, RadiusKm: Radius(-1)},
		{Limit: -1},
		{Offset: -3},
	}
	for k, q := range cases {
		if _, err := idx.Query(q); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("case %d: want ErrInvalidQuery, got %v", k, err)
		}
	}
}

func TestIndex_UpsertRemoveGeneration(t *testing.T) {
	idx := New()
	g0 := idx.Generation()

	if err := idx.Upsert(Site{ID: 1, Name: "a", Location: colombo, Status: domain.PharmacyActive}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert(Site{ID: 1, Name: "b", Location: colombo, Status: domain.PharmacySuspended}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("len = %d", idx.Len())
	}
	s, ok := idx.Get(1)
	if !ok || s.Name != "b" || s.Status != domain.PharmacySuspended {
		t.Fatalf("get: %+v ok=%v", s, ok)
	}
	if err := idx.Upsert(Site{ID: 2, Location: Point{Lat: 200}}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("invalid location accepted: %v", err)
	}
	if !idx.Remove(1) || idx.Remove(1) {
		t.Fatalf("remove must report presence once")
	}
	if idx.Generation() != g0+3 {
		t.Fatalf("generation = %d, want %d", idx.Generation(), g0+3)
	}

	skipped := idx.Load([]Site{{ID: 5, Location: Point{Lat: math.Inf(1)}}, {ID: 6, Location: colombo}})
	if len(skipped) != 1 || skipped[0] != 5 || idx.Len() != 1 {
		t.Fatalf("load skipped=%v len=%d", skipped, idx.Len())
	}
}

func TestIndex_ConcurrentReadersAndWriters(t *testing.T) {
	idx := New()
	idx.Load(randomSites(200, colombo, 0.1, 3))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = idx.Upsert(Site{ID: uint64(1000 + w*100 + i), Location: colombo, Status: domain.PharmacyActive})
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := idx.Query(Query{Origin: &colombo, RadiusKm: Radius(5), Limit: 10}); err != nil {
					t.Errorf("query: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if idx.Len() != 400 {
		t.Fatalf("len = %d, want 400", idx.Len())
	}
}
