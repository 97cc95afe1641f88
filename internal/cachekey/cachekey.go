// Package cachekey fingerprints simulation inputs for the Controller's
// per-instance bounded LRU cache (never a process-global cache — see
// DESIGN.md, "Global caches").
package cachekey

import (
	"encoding/gob"
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

// Of returns a stable fingerprint for a simulate_cycle input, salted
// with schemaVersion so a cache entry computed against one Result
// schema can never collide with (or be mistaken for) one computed
// against another — the Controller's cache is keyed on the call's
// inputs alone, but the schema governs how the cached Result is
// interpreted by a caller, so it has to be part of the key. A value
// implementing fmt.Stringer is hashed through its String method;
// otherwise gob encoding is tried first since it is fast and
// deterministic for plain structs; spew is a fallback for values gob
// cannot encode (e.g. a struct type with no exported fields).
func Of(schemaVersion string, object interface{}) string {
	h := fnv.New128a()
	fmt.Fprintf(h, "schema:%s|", schemaVersion)

	if s, ok := object.(fmt.Stringer); ok {
		fmt.Fprint(h, s.String())
		return sumHex(h)
	}

	e := gob.NewEncoder(h)
	if err := e.Encode(object); err == nil {
		return sumHex(h)
	}
	printer := spew.ConfigState{
		Indent:                  " ",
		SortKeys:                true,
		DisableMethods:          true,
		SpewKeys:                true,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
	}
	printer.Fprintf(h, "%#v", object)
	return sumHex(h)
}

func sumHex(h hash.Hash) string {
	bKey := h.Sum([]byte{})
	return fmt.Sprintf("%x", bKey[0:h.Size()])
}
