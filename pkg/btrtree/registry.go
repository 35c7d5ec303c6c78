package btrtree

import "github.com/ssargent/pmatree/pkg/classreg"

// RegisterClass registers a concrete ClassOps under classID with the
// process-wide class registry. classreg.Descriptor.Ops is typed `any` to
// keep classreg free of an import on this package; RegisterClass is the one
// place that type hides and resolveClass is the one place it is recovered.
func RegisterClass(classID classreg.ClassID, defaultOrder uint16, features uint64, ops ClassOps) error {
	return classreg.Register(classID, defaultOrder, features, ops)
}

// resolveClass looks up classID and type-asserts its Ops back to ClassOps.
func resolveClass(classID classreg.ClassID) (classreg.Descriptor, ClassOps, error) {
	d, err := classreg.Lookup(classID)
	if err != nil {
		return classreg.Descriptor{}, nil, err
	}
	ops, ok := d.Ops.(ClassOps)
	if !ok {
		return classreg.Descriptor{}, nil, ErrInvalidArgument
	}
	return d, ops, nil
}
