package platform

// Package platform provides the filesystem capability consumed by the
// engine and muxer: job temp directories, per-segment slot files, and
// best-effort cleanup. All operations go through an injected afero.Fs so
// tests can run on an in-memory filesystem.
