/*
Package config provides type-safe configuration extraction from map[string]any.

# Overview

config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches gracefully by returning default values.
Keys may be dotted paths into nested sections:

	cfg, _ := config.FromFile("rendergraph.yaml")

	port := cfg.Int("worker.port", 8188)
	grace := cfg.Duration("worker.grace_period", 10*time.Second)
	probe := cfg.Section("probe")

Duration accepts Go duration strings ("30s", "1h30m") or plain numbers of
seconds. Int accepts floats only when they have no fractional part.

# Settings

LoadSettings maps a file onto the typed Settings used by the CLI: worker
launch and addressing, readiness probe timing, orchestrator behavior, the
local LLM, logging, and the outcome ledger. Absent keys keep the values
from DefaultSettings.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
