// Package wire defines the JSON envelope peers exchange: the kind enum
// with its fire/durable classification, the payload with its optional
// sub-kind tag, and correlation key generation.
package wire
