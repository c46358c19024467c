package crypt

// Package crypt implements AES-128-CBC segment decryption with PKCS#7
// unpadding, implicit IV derivation from media sequence numbers, and the
// per-job key cache.
