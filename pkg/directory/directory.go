package directory

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/coupledsim/fmigate/pkg/modeldesc"
	"github.com/coupledsim/fmigate/pkg/shm"
	"github.com/coupledsim/fmigate/pkg/types"
)

// Directory is the front end's view of the variable records placed in
// shared memory: four typed vectors plus handle and name indices built
// once at instantiation and never reconfigured afterwards.
type Directory struct {
	reals    []shm.Record
	integers []shm.Record
	booleans []shm.Record
	strings  []shm.Record

	realByRef    map[types.ValueReference]shm.Record
	integerByRef map[types.ValueReference]shm.Record
	booleanByRef map[types.ValueReference]shm.Record
	stringByRef  map[types.ValueReference]shm.Record

	refByName  map[string]types.ValueReference
	kindByName map[string]types.ValueKind
}

// Build constructs the four record vectors inside the segment, writes
// one record per declared variable (name, handle, causality,
// variability, start value) and indexes them.
func Build(seg *shm.Segment, doc *modeldesc.Document, lg zerolog.Logger) (*Directory, error) {
	nReal, nInteger, nBoolean, nString := doc.Counts()

	d := &Directory{
		realByRef:    make(map[types.ValueReference]shm.Record, nReal),
		integerByRef: make(map[types.ValueReference]shm.Record, nInteger),
		booleanByRef: make(map[types.ValueReference]shm.Record, nBoolean),
		stringByRef:  make(map[types.ValueReference]shm.Record, nString),
		refByName:    make(map[string]types.ValueReference, len(doc.Variables)),
		kindByName:   make(map[string]types.ValueKind, len(doc.Variables)),
	}

	var err error
	if d.reals, err = seg.ConstructRecordVector(types.VectorRealScalars, types.KindReal, nReal); err != nil {
		return nil, fmt.Errorf("directory: construct %s: %w", types.VectorRealScalars, err)
	}
	if d.integers, err = seg.ConstructRecordVector(types.VectorIntegerScalars, types.KindInteger, nInteger); err != nil {
		return nil, fmt.Errorf("directory: construct %s: %w", types.VectorIntegerScalars, err)
	}
	if d.booleans, err = seg.ConstructRecordVector(types.VectorBooleanScalars, types.KindBoolean, nBoolean); err != nil {
		return nil, fmt.Errorf("directory: construct %s: %w", types.VectorBooleanScalars, err)
	}
	if d.strings, err = seg.ConstructRecordVector(types.VectorStringScalars, types.KindString, nString); err != nil {
		return nil, fmt.Errorf("directory: construct %s: %w", types.VectorStringScalars, err)
	}

	next := map[types.ValueKind]int{}
	for i := range doc.Variables {
		v := &doc.Variables[i]

		var rec shm.Record
		switch v.Kind {
		case types.KindReal:
			rec = d.reals[next[v.Kind]]
		case types.KindInteger:
			rec = d.integers[next[v.Kind]]
		case types.KindBoolean:
			rec = d.booleans[next[v.Kind]]
		case types.KindString:
			rec = d.strings[next[v.Kind]]
		}
		next[v.Kind]++

		if err := rec.SetName(v.Name); err != nil {
			return nil, fmt.Errorf("directory: variable %q: %w", v.Name, err)
		}
		rec.SetValueRef(v.ValueReference)
		rec.SetCausality(v.Causality)
		rec.SetVariability(v.Variability)

		switch v.Kind {
		case types.KindReal:
			rec.SetReal(v.StartReal())
			d.realByRef[v.ValueReference] = rec
		case types.KindInteger:
			rec.SetInteger(v.StartInteger())
			d.integerByRef[v.ValueReference] = rec
		case types.KindBoolean:
			rec.SetBool(v.StartBoolean())
			d.booleanByRef[v.ValueReference] = rec
		case types.KindString:
			if err := rec.SetString(v.StartString()); err != nil {
				return nil, fmt.Errorf("directory: variable %q: %w", v.Name, err)
			}
			d.stringByRef[v.ValueReference] = rec
		}

		if _, dup := d.refByName[v.Name]; dup {
			return nil, fmt.Errorf("directory: duplicate variable name %q", v.Name)
		}
		d.refByName[v.Name] = v.ValueReference
		d.kindByName[v.Name] = v.Kind

		lg.Debug().Str("category", "DEBUG").
			Str("name", v.Name).
			Uint32("valueReference", uint32(v.ValueReference)).
			Str("causality", string(v.Causality)).
			Str("variability", string(v.Variability)).
			Str("type", v.Kind.String()).
			Msg("initialized scalar variable")
	}

	return d, nil
}

// Real looks up a real record by handle.
func (d *Directory) Real(ref types.ValueReference) (shm.Record, bool) {
	rec, ok := d.realByRef[ref]
	return rec, ok
}

// Integer looks up an integer record by handle.
func (d *Directory) Integer(ref types.ValueReference) (shm.Record, bool) {
	rec, ok := d.integerByRef[ref]
	return rec, ok
}

// Boolean looks up a boolean record by handle.
func (d *Directory) Boolean(ref types.ValueReference) (shm.Record, bool) {
	rec, ok := d.booleanByRef[ref]
	return rec, ok
}

// String looks up a string record by handle.
func (d *Directory) String(ref types.ValueReference) (shm.Record, bool) {
	rec, ok := d.stringByRef[ref]
	return rec, ok
}

// RefByName resolves a variable name to its handle and kind.
func (d *Directory) RefByName(name string) (types.ValueReference, types.ValueKind, bool) {
	ref, ok := d.refByName[name]
	if !ok {
		return 0, 0, false
	}
	return ref, d.kindByName[name], true
}

// Names returns all declared variable names, sorted.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.refByName))
	for name := range d.refByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of records.
func (d *Directory) Len() int {
	return len(d.reals) + len(d.integers) + len(d.booleans) + len(d.strings)
}
