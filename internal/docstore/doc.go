// Package docstore is the contract between the data layer and the remote
// document store: single-document reads and writes, conditional
// transactions with automatic retry, atomic increments, and full-snapshot
// change feeds. Backends live in sub-packages.
//
// Backends report failures as gRPC status errors (codes.NotFound,
// codes.AlreadyExists, codes.Aborted, codes.Unavailable, ...). Classify maps
// them onto the common error taxonomy.
package docstore
