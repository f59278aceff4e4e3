// Package run wires filtering, planning, downloading, and extraction into
// one invocation.
//
// The orchestrator consumes download outcomes as the scheduler produces
// them and extracts each archive as soon as its own download lands, so
// extraction of early archives overlaps with later downloads. Dry-run mode
// produces the same report shape from plan contents alone, without any
// network or filesystem write.
//
// Per-archive failures never abort the run. Every invocation ends with a
// complete Report of what succeeded, partially succeeded, or failed, which
// the CLI turns into output and an exit code.
package run
