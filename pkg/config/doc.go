// Package config loads framegraph configuration.
//
// # Overview
//
// Settings are layered, later sources winning:
//
//  1. Built-in defaults (Default)
//  2. A config file: the path given, or framegraph.{yaml,yml,json,toml,cue}
//     in the working directory or $HOME/.config/framegraph
//  3. FRAMEGRAPH_* environment variables, with "_" separating nested keys
//
// Values are decoded with mapstructure hooks, so durations may be written as
// "30s" and lists as comma separated strings in the environment.
//
// # CUE files
//
// A config file ending in .cue is unified with the #Config schema embedded in
// this package before it is merged. Unknown keys and out-of-range values are
// reported as ValidationErrors with their file position.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e := engine.New(project, cfg.Engine, nil)
package config
