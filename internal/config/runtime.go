package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// BootFile is the mcboot config.toml key mapping. Callers overlay the
// defined keys onto their defaults using the returned metadata.
type BootFile struct {
	Network         string `toml:"network"`
	Address         string `toml:"address"`
	ConnectTimeout  string `toml:"connect_timeout"`
	CallTimeout     string `toml:"call_timeout"`
	ConnectAttempts int    `toml:"connect_attempts"`
	RedialAttempts  int    `toml:"redial_attempts"`
	Layout          string `toml:"layout"`
	TopologyOut     string `toml:"topology_out"`
	Priority        bool   `toml:"priority"`
}

// SimFile is the mcsimd config.toml key mapping.
type SimFile struct {
	Node        string   `toml:"node"`
	Network     string   `toml:"network"`
	Listen      string   `toml:"listen"`
	AdminAddr   string   `toml:"admin_addr"`
	CORSOrigins []string `toml:"cors_origins"`
	IdleTimeout string   `toml:"idle_timeout"`
	Seed        int64    `toml:"seed"`

	RootID     uint32   `toml:"root_id"`
	RootLabel  string   `toml:"root_label"`
	RootICID   uint16   `toml:"root_icid"`
	RootPortal uint32   `toml:"root_portal"`
	ICIDs      []uint16 `toml:"icids"`
	Portals    []uint32 `toml:"portals"`
	Firmware   string   `toml:"firmware"`

	Objects []SimObject `toml:"objects"`
	Blobs   []SimBlob   `toml:"blobs"`
}

// SimObject pre-declares an object in the root container.
type SimObject struct {
	Type  string `toml:"type"`
	ID    uint32 `toml:"id"`
	Label string `toml:"label"`
}

// SimBlob stages a configuration blob at a fake physical address.
type SimBlob struct {
	Address uint64 `toml:"address"`
	Code    uint16 `toml:"code"`
}

func DecodeBootFile(path string) (BootFile, toml.MetaData, error) {
	var raw BootFile
	meta, err := decodeStrict(path, &raw)
	if err != nil {
		return BootFile{}, meta, fmt.Errorf("load mcboot config: %w", err)
	}
	return raw, meta, nil
}

func DecodeSimFile(path string) (SimFile, toml.MetaData, error) {
	var raw SimFile
	meta, err := decodeStrict(path, &raw)
	if err != nil {
		return SimFile{}, meta, fmt.Errorf("load mcsimd config: %w", err)
	}
	return raw, meta, nil
}

// decodeStrict rejects keys the target struct does not map.
func decodeStrict(path string, out any) (toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return meta, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return meta, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return meta, nil
}

// ValidateFile checks a config file of the given kind without starting
// anything.
func ValidateFile(kind, path string) error {
	switch normalizeKind(kind) {
	case KindBoot:
		_, _, err := DecodeBootFile(path)
		return err
	case KindSim:
		_, _, err := DecodeSimFile(path)
		return err
	case KindLayout:
		_, err := LoadLayout(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}
