package mcsim

import (
	"cmp"
	"slices"
)

// Pools are kept sorted so the sentinel path always hands out the lowest
// free identifier.

func takeFirst[T cmp.Ordered](pool *[]T) (T, bool) {
	var zero T
	if len(*pool) == 0 {
		return zero, false
	}
	v := (*pool)[0]
	*pool = (*pool)[1:]
	return v, true
}

func take[T cmp.Ordered](pool *[]T, v T) bool {
	i, found := slices.BinarySearch(*pool, v)
	if !found {
		return false
	}
	*pool = slices.Delete(*pool, i, i+1)
	return true
}

func give[T cmp.Ordered](pool *[]T, v T) {
	i, found := slices.BinarySearch(*pool, v)
	if found {
		return
	}
	*pool = slices.Insert(*pool, i, v)
}

// allocate draws want (or the lowest free value when want is the
// sentinel) from parent's pool, falling back to the grandparent's pool
// when parent may allocate from its own parent. It returns the container
// whose pool supplied the value.
func allocate[T cmp.Ordered](parent *container, want, sentinel T, pool func(*container) *[]T) (T, *container, bool) {
	sources := []*container{parent}
	if parent.has(optAlloc) && parent.parent != nil {
		sources = append(sources, parent.parent)
	}
	for _, src := range sources {
		if want == sentinel {
			if v, ok := takeFirst(pool(src)); ok {
				return v, src, true
			}
			continue
		}
		if take(pool(src), want) {
			return want, src, true
		}
	}
	var zero T
	return zero, nil, false
}

func icidPool(c *container) *[]uint16   { return &c.icids }
func portalPool(c *container) *[]uint32 { return &c.portals }
