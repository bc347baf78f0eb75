package frontend

import (
	"fmt"

	"github.com/coupledsim/fmigate/pkg/shm"
	"github.com/coupledsim/fmigate/pkg/types"
)

// Typed value access by handle. Setters reject unknown handles and
// records whose causality forbids writing; writes to an output warn and
// leave state unchanged. These calls are legal outside the turn because
// the worker is blocked waiting whenever the master is not inside
// DoStep or InitializeSlave.

func (a *Adapter) lookup(kind types.ValueKind, ref types.ValueReference, op string) (shm.Record, types.Status) {
	if a.poisoned {
		return shm.Record{}, types.StatusFatal
	}
	if a.dir == nil {
		a.logf(types.StatusWarning, "WARNING", op+" called before instantiate")
		return shm.Record{}, types.StatusWarning
	}

	var rec shm.Record
	var ok bool
	switch kind {
	case types.KindReal:
		rec, ok = a.dir.Real(ref)
	case types.KindInteger:
		rec, ok = a.dir.Integer(ref)
	case types.KindBoolean:
		rec, ok = a.dir.Boolean(ref)
	case types.KindString:
		rec, ok = a.dir.String(ref)
	}
	if !ok {
		a.logf(types.StatusWarning, "WARNING", fmt.Sprintf("%s - unknown value reference: %d", op, ref))
		return shm.Record{}, types.StatusWarning
	}
	return rec, types.StatusOK
}

func (a *Adapter) checkWritable(rec shm.Record, ref types.ValueReference) types.Status {
	if !rec.Causality().Writable() {
		a.logf(types.StatusWarning, "WARNING",
			fmt.Sprintf("variable is not an input variable or internal parameter: %d", ref))
		return types.StatusWarning
	}
	return types.StatusOK
}

// SetReal sets a real variable by handle.
func (a *Adapter) SetReal(ref types.ValueReference, v float64) types.Status {
	rec, st := a.lookup(types.KindReal, ref, "setReal")
	if st != types.StatusOK {
		return st
	}
	if st := a.checkWritable(rec, ref); st != types.StatusOK {
		return st
	}
	rec.SetReal(v)
	return types.StatusOK
}

// SetInteger sets an integer variable by handle.
func (a *Adapter) SetInteger(ref types.ValueReference, v int64) types.Status {
	rec, st := a.lookup(types.KindInteger, ref, "setInteger")
	if st != types.StatusOK {
		return st
	}
	if st := a.checkWritable(rec, ref); st != types.StatusOK {
		return st
	}
	rec.SetInteger(v)
	return types.StatusOK
}

// SetBoolean sets a boolean variable by handle.
func (a *Adapter) SetBoolean(ref types.ValueReference, v bool) types.Status {
	rec, st := a.lookup(types.KindBoolean, ref, "setBoolean")
	if st != types.StatusOK {
		return st
	}
	if st := a.checkWritable(rec, ref); st != types.StatusOK {
		return st
	}
	rec.SetBool(v)
	return types.StatusOK
}

// SetString sets a string variable by handle.
func (a *Adapter) SetString(ref types.ValueReference, v string) types.Status {
	rec, st := a.lookup(types.KindString, ref, "setString")
	if st != types.StatusOK {
		return st
	}
	if st := a.checkWritable(rec, ref); st != types.StatusOK {
		return st
	}
	if err := rec.SetString(v); err != nil {
		a.logf(types.StatusError, "WARNING", fmt.Sprintf("setString - unable to store value: %v", err))
		return types.StatusError
	}
	return types.StatusOK
}

// GetReal reads a real variable by handle. Unknown handles warn and
// yield zero.
func (a *Adapter) GetReal(ref types.ValueReference) (float64, types.Status) {
	rec, st := a.lookup(types.KindReal, ref, "getReal")
	if st != types.StatusOK {
		return 0, st
	}
	return rec.Real(), types.StatusOK
}

// GetInteger reads an integer variable by handle.
func (a *Adapter) GetInteger(ref types.ValueReference) (int64, types.Status) {
	rec, st := a.lookup(types.KindInteger, ref, "getInteger")
	if st != types.StatusOK {
		return 0, st
	}
	return rec.Integer(), types.StatusOK
}

// GetBoolean reads a boolean variable by handle.
func (a *Adapter) GetBoolean(ref types.ValueReference) (bool, types.Status) {
	rec, st := a.lookup(types.KindBoolean, ref, "getBoolean")
	if st != types.StatusOK {
		return false, st
	}
	return rec.Bool(), types.StatusOK
}

// GetString reads a string variable by handle.
func (a *Adapter) GetString(ref types.ValueReference) (string, types.Status) {
	rec, st := a.lookup(types.KindString, ref, "getString")
	if st != types.StatusOK {
		return "", st
	}
	return rec.String(), types.StatusOK
}

// RefByName resolves a variable name to its handle and kind through the
// directory's name maps.
func (a *Adapter) RefByName(name string) (types.ValueReference, types.ValueKind, bool) {
	if a.dir == nil {
		return 0, 0, false
	}
	return a.dir.RefByName(name)
}

// SetRealByName sets a real variable by name.
func (a *Adapter) SetRealByName(name string, v float64) types.Status {
	ref, kind, ok := a.RefByName(name)
	if !ok || kind != types.KindReal {
		a.logf(types.StatusWarning, "WARNING", "setReal - unknown variable name: "+name)
		return types.StatusWarning
	}
	return a.SetReal(ref, v)
}

// GetRealByName reads a real variable by name.
func (a *Adapter) GetRealByName(name string) (float64, types.Status) {
	ref, kind, ok := a.RefByName(name)
	if !ok || kind != types.KindReal {
		a.logf(types.StatusWarning, "WARNING", "getReal - unknown variable name: "+name)
		return 0, types.StatusWarning
	}
	return a.GetReal(ref)
}
