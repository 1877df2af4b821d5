// Package registry owns the station table: the durable name → coordinate
// mapping that fares are priced from.
//
// A Registry is constructed explicitly around a store.StationTable and
// passed to whoever needs it. Every mutation writes the full table back
// before returning; a failed write rolls the in-memory change back.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/atmx/transit-fare/internal/geo"
	"github.com/atmx/transit-fare/internal/model"
	"github.com/atmx/transit-fare/internal/store"
)

var (
	// ErrUnknownStation is returned when a name is not registered.
	ErrUnknownStation = errors.New("registry: unknown station")

	// ErrPersistence wraps read/write failures of the station table.
	ErrPersistence = errors.New("registry: station table persistence failed")
)

// Registry is the in-memory view of the station table.
type Registry struct {
	table store.StationTable

	mu       sync.RWMutex
	stations map[string]model.Station
	order    []string // insertion order within this process
}

// Open creates a registry and loads the table. A load failure leaves the
// registry empty and usable; the error is returned for the caller to report.
func Open(ctx context.Context, table store.StationTable) (*Registry, error) {
	r := &Registry{
		table:    table,
		stations: make(map[string]model.Station),
	}
	return r, r.Reload(ctx)
}

// Add registers a station, overwriting any station with the same name.
func (r *Registry) Add(ctx context.Context, name string, x, y, z int64) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := geo.ValidateCoordinates(x, y, z); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.stations[name]
	st := model.Station{Name: name, X: x, Y: y, Z: z}
	r.stations[name] = st
	if !existed {
		r.order = append(r.order, name)
	}

	if err := r.persistLocked(ctx); err != nil {
		if existed {
			r.stations[name] = prev
		} else {
			delete(r.stations, name)
			r.order = r.order[:len(r.order)-1]
		}
		return err
	}

	slog.Info("station saved", "name", name, "x", x, "y", y, "z", z, "overwrite", existed)
	return nil
}

// Remove deletes a station. It reports false, and writes nothing, when the
// name is not registered.
func (r *Registry) Remove(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.stations[name]
	if !ok {
		return false, nil
	}

	idx := slices.Index(r.order, name)
	delete(r.stations, name)
	r.order = slices.Delete(r.order, idx, idx+1)

	if err := r.persistLocked(ctx); err != nil {
		r.stations[name] = prev
		r.order = slices.Insert(r.order, idx, name)
		return false, err
	}

	slog.Info("station removed", "name", name)
	return true, nil
}

// Get returns the station registered under name.
func (r *Registry) Get(name string) (model.Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stations[name]
	return st, ok
}

// Resolve is Get with ErrUnknownStation for missing names.
func (r *Registry) Resolve(name string) (model.Station, error) {
	st, ok := r.Get(name)
	if !ok {
		return model.Station{}, fmt.Errorf("%w: %q", ErrUnknownStation, name)
	}
	return st, nil
}

// List returns station names in insertion order. After a reload the order
// is whatever the backing store returned, which differs across processes.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Stations returns every station in List order.
func (r *Registry) Stations() []model.Station {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Station, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.stations[name])
	}
	return out
}

// Len returns the number of registered stations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stations)
}

// Distance resolves both names and returns the distance between them.
func (r *Registry) Distance(a, b string) (float64, error) {
	sa, err := r.Resolve(a)
	if err != nil {
		return 0, err
	}
	sb, err := r.Resolve(b)
	if err != nil {
		return 0, err
	}
	return geo.Distance(sa, sb), nil
}

// Reload discards the in-memory table and reads it again. If the read fails
// or the stored data is invalid, the registry is left empty rather than
// holding a partial or stale table.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded, err := r.table.LoadStations(ctx)

	stations := make(map[string]model.Station, len(loaded))
	order := make([]string, 0, len(loaded))
	if err == nil {
		for _, st := range loaded {
			if verr := validateStation(st); verr != nil {
				err = verr
				break
			}
			if _, dup := stations[st.Name]; !dup {
				order = append(order, st.Name)
			}
			stations[st.Name] = st
		}
	}

	if err != nil {
		stations = make(map[string]model.Station)
		order = nil
	}

	r.stations = stations
	r.order = order

	if err != nil {
		slog.Error("station table reload failed, registry reset to empty", "err", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	slog.Info("station table loaded", "stations", len(order))
	return nil
}

func (r *Registry) persistLocked(ctx context.Context) error {
	out := make([]model.Station, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.stations[name])
	}
	if err := r.table.SaveStations(ctx, out); err != nil {
		slog.Error("station table save failed", "err", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func validateStation(st model.Station) error {
	if err := ValidateName(st.Name); err != nil {
		return err
	}
	return geo.ValidateCoordinates(st.X, st.Y, st.Z)
}
