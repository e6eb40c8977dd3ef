// Package policy integrates the Open Policy Agent (OPA) engine with the RPC
// server, evaluating a Rego decision for every call before it reaches the
// registry.
//
// Policies receive the method name, raw params, declared param types, and
// the connection ID as input. The Gate type lets a reloaded policy replace
// the active engine without interrupting in-flight calls.
package policy
