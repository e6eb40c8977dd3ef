// Package governance holds runtime safety controls applied to calls before
// they reach an operation. Limits can be reconfigured while the server runs.
package governance
