package model

// Package model defines domain data structures used across the app: segment
// descriptors and manifests, job requests and snapshots, status enums, and
// the event types streamed to the shell. Structures are designed for direct
// binding in a consumer UI and explicit state transitions.
