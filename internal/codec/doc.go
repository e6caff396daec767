// Package codec converts between the dynamic field maps of the document
// store and the typed entities in models.
//
// Decoding is lenient: numbers may arrive as any integer or float type,
// json.Number or numeric strings; timestamps as time.Time, RFC 3339 strings,
// epoch seconds or {seconds, nanoseconds} maps. A record whose required
// fields are missing or mistyped is rejected on its own; DecodeAll never
// fails a batch.
package codec
