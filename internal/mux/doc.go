package mux

// Package mux assembles ready segment slots into the final output file:
// ordered concatenation for transport streams, plus an ffmpeg stream-copy
// remux for mp4/mkv/webm containers.
