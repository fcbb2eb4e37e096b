package locations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-scm/meridian-scm/internal/masterdata/shared"
)

type memoryRepo struct {
	nextID    int64
	locations map[int64]Location
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, locations: map[int64]Location{}}
}

func (m *memoryRepo) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	var out []Location
	for _, l := range m.locations {
		if filters.Kind != "" && l.Kind != filters.Kind {
			continue
		}
		out = append(out, l)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Location, error) {
	l, ok := m.locations[id]
	if !ok {
		return Location{}, shared.ErrNotFound
	}
	return l, nil
}

func (m *memoryRepo) GetByCode(ctx context.Context, code string) (Location, error) {
	for _, l := range m.locations {
		if l.Code == code {
			return l, nil
		}
	}
	return Location{}, shared.ErrNotFound
}

func (m *memoryRepo) Create(ctx context.Context, location Location) (Location, error) {
	location.ID = m.nextID
	m.nextID++
	m.locations[location.ID] = location
	return location, nil
}

func (m *memoryRepo) Update(ctx context.Context, id int64, location Location) error {
	if _, ok := m.locations[id]; !ok {
		return shared.ErrNotFound
	}
	location.ID = id
	m.locations[id] = location
	return nil
}

func (m *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.locations[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.locations, id)
	return nil
}

func TestCreateValidatesKind(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), Location{Code: "X-01", Name: "Site X", Kind: "WAREHOUSE"})
	require.Error(t, err)

	created, err := svc.Create(context.Background(), Location{Code: "OUT-01", Name: "Harbor Outlet", Kind: KindOutlet})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
}

func TestCreateRequiresCodeAndName(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), Location{Name: "No Code", Kind: KindCenter})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), Location{Code: "CTR-09", Kind: KindCenter})
	require.Error(t, err)
}

func TestKindResolvesTier(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	created, err := svc.Create(context.Background(), Location{Code: "CTR-01", Name: "Harbor Center", Kind: KindCenter})
	require.NoError(t, err)

	kind, err := svc.Kind(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, KindCenter, kind)

	_, err = svc.Kind(context.Background(), 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
