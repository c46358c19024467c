package engine

// Package engine implements the core download pipeline: it resolves a
// playlist into a manifest, dispatches segment workers under a counting
// permit pool, drives bounded retries, decrypts keyed segments, hands the
// ordered slots to the assembler, and streams progress and log events to
// the consuming shell.
