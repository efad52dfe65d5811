package config

import (
	"fmt"
	"os"

	gotoml "github.com/pelletier/go-toml/v2"
)

// Template renders the default configuration as a commented TOML document.
func Template() (string, error) {
	data, err := gotoml.Marshal(toFile(Default()))
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	variants := make([]string, 0, len(cfg.Producer.Variants))
	for _, t := range cfg.Producer.Variants {
		variants = append(variants, t.String())
	}
	return fileConfig{
		Channel: fileChannel{
			Kind:         string(cfg.Channel.Kind),
			ReadTimeout:  cfg.Channel.ReadTimeout.String(),
			ReplyTimeout: cfg.Channel.ReplyTimeout.String(),
		},
		Limits: fileLimits{
			MaxFrame:   cfg.Limits.MaxFrameLen,
			MaxTrailer: cfg.Limits.MaxTrailerLen,
		},
		Producer: fileProducer{
			Variants:      variants,
			Prompt:        cfg.Prompt,
			Float:         float64(cfg.Producer.Float),
			Double:        cfg.Producer.Double,
			Short:         int64(cfg.Producer.Short),
			Int:           int64(cfg.Producer.Int),
			ReplyHeadroom: cfg.Producer.ReplyHeadroom,
		},
		Transformer: fileTransformer{
			FloatFactor:  float64(cfg.Transformer.FloatFactor),
			DoubleFactor: cfg.Transformer.DoubleFactor,
			ShortFactor:  int64(cfg.Transformer.ShortFactor),
			IntFactor:    int64(cfg.Transformer.IntFactor),
			MarkerA:      string(cfg.Transformer.MarkerA),
			MarkerB:      string(cfg.Transformer.MarkerB),
		},
		Trace: fileTrace{
			Format: string(cfg.Trace.Format),
			Output: cfg.Trace.Output,
		},
		Metrics: fileMetrics{
			Addr: cfg.Metrics.Addr,
		},
	}
}
