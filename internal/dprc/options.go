package dprc

import (
	"fmt"
	"strings"
)

var optionNames = []struct {
	bit  Options
	name string
}{
	{SpawnAllowed, "spawn"},
	{AllocAllowed, "alloc"},
	{ObjectCreateAllowed, "objcreate"},
	{TopologyChangesAllowed, "topology"},
	{IOMMUBypass, "iommu_bypass"},
	{AIOP, "aiop"},
	{IRQConfigAllowed, "irq_config"},
}

// ParseOptions maps option names as written in layouts to bits.
func ParseOptions(names []string) (Options, error) {
	var out Options
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, opt := range optionNames {
			if opt.name == name {
				out |= opt.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("dprc: unknown container option %q", raw)
		}
	}
	return out, nil
}

// Names lists the set bits by name. Unnamed bits are rendered in hex.
func (o Options) Names() []string {
	out := make([]string, 0)
	rest := o
	for _, opt := range optionNames {
		if o&opt.bit != 0 {
			out = append(out, opt.name)
			rest &^= opt.bit
		}
	}
	if rest != 0 {
		out = append(out, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return out
}

func (o Options) String() string {
	names := o.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
