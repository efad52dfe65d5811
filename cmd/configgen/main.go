package main

import (
	"flag"
	"log"

	"github.com/danmuck/flexpipe/internal/config"
)

const defaultPath = "flexpipe.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for the config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s (channel=%s variants=%v trace=%s)",
			*input, cfg.Channel.Kind, cfg.Producer.Variants, cfg.Trace.Format)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote config template to %s", *output)
}
