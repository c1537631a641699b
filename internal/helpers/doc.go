// Package helpers provides small utilities shared by the ingress-guard packages.
//
// Key utilities:
//   - ClassifyAddr: classifies client addresses (public, private, loopback, ...)
//   - IsPublicAddr: convenience wrapper used by the identity resolver
//   - SafeTruncate: truncates strings for logging without panicking
package helpers
