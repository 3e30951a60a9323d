// Package engine ties the framegraph packages into one editor core.
//
// # Overview
//
// An Engine owns a project and its undo history. Every edit flows through
// the same path:
//
//  1. A command is built from the current project (package command)
//  2. The history manager applies and records it (package history)
//  3. Listeners turn the transition into metrics and events (package telemetry)
//
// Reads never mutate anything. EvaluateFrame resolves every property of the
// live project at a time, and EvaluateRange does the same for a sequence of
// times on a pool of workers:
//
//	e := engine.New(project, engine.DefaultConfig(), nil)
//	frame := e.EvaluateFrame(ctx, 2.5)
//	width, _ := frame.Get("box", "width")
//
// # Scripts
//
// RunScript executes a Starlark script as one transaction. Either all of its
// edits are committed as a single history entry, or none are:
//
//	res, err := e.RunScript(ctx, `box.width = 200`)
//
// # Advisory checks
//
// CheckLink and CheckExpression report edits that would close a reference
// cycle. They never block an edit; callers show the result as a warning.
// Cycles that do get committed evaluate to 0 at the depth limit.
//
// # Error Classification
//
// Errors returned by the engine are *EngineError values with a class:
//
//   - Validation: the request is malformed
//   - NotFound: a node, property or history entry is missing
//   - Conflict: the request clashes with current state
//   - Script: a user script failed and nothing was committed
//   - Internal: anything else
//
// Use ClassOf or the Is* helpers to branch on them.
package engine
