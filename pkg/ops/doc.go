// Package ops holds the pure functions exposed by the RPC registry: Floor,
// NRoot, Reverse, ValidAnagram, and Sort.
//
// Every function is stateless and safe for concurrent use. String functions
// operate on UTF-16 code units, as wire clients count string length, and are
// not grapheme aware.
package ops
