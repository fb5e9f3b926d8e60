// Package source loads policy rules for the engine and keeps them current.
//
// # File Source
//
// A FileSource reads rule files from a single YAML file or from every .yaml
// and .yml file under a directory:
//
//	version: 1
//	rules:
//	  - id: mutation-requires-hypothesis
//	    category: workflow
//	    level: block
//	    trigger:
//	      all: [mutating_action, trust_ignorance]
//	    message: gather evidence before editing
//
// Files are read in lexical path order. Every file must parse; a rule set
// with any broken file is rejected as a whole so a typo never silently
// drops a rule.
//
// # Hot-Reload
//
// A Reloader pairs a Source with an engine. Watch runs an fsnotify watcher
// over the rule path and reloads after a quiet period:
//
//	r := source.NewReloader(src, eng, logger)
//	if err := r.Reload(ctx); err != nil { ... }
//	go r.Watch(ctx, source.DefaultWatcherConfig(path))
//
// A failed reload keeps the previous rule set in place.
package source
