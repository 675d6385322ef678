package main

import (
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/danmuck/mcportal/internal/config"
)

var defaultPaths = map[string]string{
	config.KindBoot:   "cmd/mcboot/config.toml",
	config.KindSim:    "cmd/mcsimd/config.toml",
	config.KindLayout: "cmd/mcboot/layout.toml",
}

func main() {
	flags := pflag.NewFlagSet("configgen", pflag.ExitOnError)
	kind := flags.StringP("kind", "k", config.KindBoot, "config kind: mcboot|mcsimd|layout")
	output := flags.StringP("output", "o", "", "output path for config template")
	validate := flags.Bool("validate", false, "validate an existing config file")
	input := flags.StringP("input", "i", "", "config path for validation (defaults to per-kind cmd path)")
	force := flags.Bool("force", false, "overwrite existing config file")
	_ = flags.Parse(os.Args[1:])

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := config.ValidateFile(*kind, path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	path, ok := defaultPaths[kind]
	if !ok {
		log.Fatalf("unknown kind: %s", kind)
	}
	return path
}
