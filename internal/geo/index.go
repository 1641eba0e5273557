// Package geo provides an in-memory spatial index over pharmacy locations.
//
// The index is read-mostly. Queries run lock-free against an immutable
// snapshot; writers (Load, Upsert, Remove) build a new snapshot and publish
// it atomically, so a query always sees one consistent view of the
// directory. Sites are bucketed into a lat/lng grid so radius queries only
// measure sites in nearby cells.
//
// No logging in the library; callers decide what to log.
package geo

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

// ErrInvalidQuery is returned for queries with an out-of-range origin,
// a negative radius or negative paging values.
var ErrInvalidQuery = errors.New("invalid geo query")

// Site is one indexed pharmacy.
type Site struct {
	ID       uint64
	Name     string
	Location Point
	Status   domain.PharmacyStatus
}

// Candidate is a query hit. DistanceKm is nil when the query had no origin.
type Candidate struct {
	PharmacyID uint64                `json:"pharmacyId"`
	Name       string                `json:"name"`
	Location   Point                 `json:"location"`
	Status     domain.PharmacyStatus `json:"status"`
	DistanceKm *float64              `json:"distanceKm,omitempty"`
}

// Query selects candidates.
//
//   - Origin: when nil, results are ordered by id and RadiusKm is ignored.
//   - RadiusKm: inclusive upper bound on distance; nil means unbounded.
//   - Exclude: ids never returned.
//   - Statuses: allowed statuses; empty means any.
//   - Limit/Offset: applied after filtering and sorting; Limit 0 means all.
type Query struct {
	Origin   *Point
	RadiusKm *float64
	Exclude  map[uint64]struct{}
	Statuses []domain.PharmacyStatus
	Limit    int
	Offset   int
}

// Radius returns km as a Query.RadiusKm bound.
func Radius(km float64) *float64 { return &km }

// Page is one window of an ordered result set. Total counts every match
// before Limit/Offset.
type Page struct {
	Candidates []Candidate `json:"candidates"`
	Total      int         `json:"total"`
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	cellDegrees float64
}

func defaultConfig() config {
	return config{cellDegrees: 0.05}
}

// WithCellDegrees sets the grid cell edge in degrees. Smaller cells prune
// more for small radii at the cost of more cells per query.
func WithCellDegrees(d float64) Option {
	return func(c *config) {
		if d > 0 && !math.IsNaN(d) && !math.IsInf(d, 0) {
			c.cellDegrees = d
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type cellKey struct{ y, x int }

type snapshot struct {
	gen   uint64
	sites map[uint64]Site
	ids   []uint64 // ascending
	cells map[cellKey][]uint64
}

// Index is safe for concurrent use.
type Index struct {
	cfg  config
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// New returns an empty index.
func New(opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	idx := &Index{cfg: cfg}
	idx.snap.Store(idx.build(0, map[uint64]Site{}))
	return idx
}

func (i *Index) cellOf(p Point) cellKey {
	return cellKey{
		y: int(math.Floor(p.Lat / i.cfg.cellDegrees)),
		x: int(math.Floor(p.Lng / i.cfg.cellDegrees)),
	}
}

func (i *Index) build(gen uint64, sites map[uint64]Site) *snapshot {
	s := &snapshot{
		gen:   gen,
		sites: sites,
		ids:   make([]uint64, 0, len(sites)),
		cells: make(map[cellKey][]uint64),
	}
	for id, site := range sites {
		s.ids = append(s.ids, id)
		k := i.cellOf(site.Location)
		s.cells[k] = append(s.cells[k], id)
	}
	sort.Slice(s.ids, func(a, b int) bool { return s.ids[a] < s.ids[b] })
	return s
}

// Load replaces the whole directory. Sites with invalid locations are
// skipped and their ids returned.
func (i *Index) Load(sites []Site) (skipped []uint64) {
	m := make(map[uint64]Site, len(sites))
	for _, s := range sites {
		if !s.Location.Valid() {
			skipped = append(skipped, s.ID)
			continue
		}
		m[s.ID] = s
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.snap.Store(i.build(i.snap.Load().gen+1, m))
	return skipped
}

// Upsert inserts or replaces one site.
func (i *Index) Upsert(s Site) error {
	if !s.Location.Valid() {
		return ErrInvalidQuery
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	cur := i.snap.Load()
	m := make(map[uint64]Site, len(cur.sites)+1)
	for k, v := range cur.sites {
		m[k] = v
	}
	m[s.ID] = s
	i.snap.Store(i.build(cur.gen+1, m))
	return nil
}

// Remove drops a site; it reports whether the id was present.
func (i *Index) Remove(id uint64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	cur := i.snap.Load()
	if _, ok := cur.sites[id]; !ok {
		return false
	}
	m := make(map[uint64]Site, len(cur.sites))
	for k, v := range cur.sites {
		if k != id {
			m[k] = v
		}
	}
	i.snap.Store(i.build(cur.gen+1, m))
	return true
}

// Get returns the indexed site for id.
func (i *Index) Get(id uint64) (Site, bool) {
	s, ok := i.snap.Load().sites[id]
	return s, ok
}

// Len returns the number of indexed sites.
func (i *Index) Len() int { return len(i.snap.Load().sites) }

// Generation increases on every published change.
func (i *Index) Generation() uint64 { return i.snap.Load().gen }

// Query runs q against the current snapshot.
func (i *Index) Query(q Query) (Page, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return Page{}, ErrInvalidQuery
	}
	if r := q.RadiusKm; r != nil && (*r < 0 || math.IsNaN(*r)) {
		return Page{}, ErrInvalidQuery
	}
	if q.Origin != nil && !q.Origin.Valid() {
		return Page{}, ErrInvalidQuery
	}

	snap := i.snap.Load()
	allowed := statusSet(q.Statuses)
	keep := func(s Site) bool {
		if _, ex := q.Exclude[s.ID]; ex {
			return false
		}
		if allowed != nil {
			if _, ok := allowed[s.Status]; !ok {
				return false
			}
		}
		return true
	}

	var out []Candidate
	if q.Origin == nil {
		for _, id := range snap.ids {
			s := snap.sites[id]
			if keep(s) {
				out = append(out, toCandidate(s, nil))
			}
		}
		return paginate(out, q.Limit, q.Offset), nil
	}

	origin := *q.Origin
	for _, id := range i.scanSet(snap, origin, q.RadiusKm) {
		s := snap.sites[id]
		if !keep(s) {
			continue
		}
		d := DistanceKm(origin, s.Location)
		if q.RadiusKm != nil && d > *q.RadiusKm {
			continue
		}
		out = append(out, toCandidate(s, &d))
	}
	sort.Slice(out, func(a, b int) bool {
		da, db := *out[a].DistanceKm, *out[b].DistanceKm
		if da != db {
			return da < db
		}
		return out[a].PharmacyID < out[b].PharmacyID
	})
	return paginate(out, q.Limit, q.Offset), nil
}

// scanSet returns the ids worth measuring: the sites in grid cells that
// overlap the search box, or every site when the box is unusable or would
// touch more cells than there are sites.
func (i *Index) scanSet(snap *snapshot, origin Point, radiusKm *float64) []uint64 {
	if radiusKm == nil || math.IsInf(*radiusKm, 1) {
		return snap.ids
	}
	minLat, minLng, maxLat, maxLng, ok := searchBound(origin, *radiusKm)
	if !ok {
		return snap.ids
	}
	lo := i.cellOf(Point{Lat: minLat, Lng: minLng})
	hi := i.cellOf(Point{Lat: maxLat, Lng: maxLng})
	if n := (hi.y - lo.y + 1) * (hi.x - lo.x + 1); n <= 0 || n > len(snap.cells) {
		return snap.ids
	}
	var ids []uint64
	for y := lo.y; y <= hi.y; y++ {
		for x := lo.x; x <= hi.x; x++ {
			ids = append(ids, snap.cells[cellKey{y: y, x: x}]...)
		}
	}
	return ids
}

func statusSet(ss []domain.PharmacyStatus) map[domain.PharmacyStatus]struct{} {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[domain.PharmacyStatus]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

func toCandidate(s Site, d *float64) Candidate {
	return Candidate{
		PharmacyID: s.ID,
		Name:       s.Name,
		Location:   s.Location,
		Status:     s.Status,
		DistanceKm: d,
	}
}

func paginate(all []Candidate, limit, offset int) Page {
	p := Page{Total: len(all), Candidates: []Candidate{}}
	if offset >= len(all) {
		return p
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	p.Candidates = all[offset:end]
	return p
}
