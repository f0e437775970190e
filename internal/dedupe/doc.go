// Package dedupe tracks consumed correlation keys so that event handlers
// stay idempotent under at-least-once redelivery.
package dedupe
