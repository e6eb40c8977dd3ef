// Package domain defines the core types shared by the registry, server, and client.
//
// This package has ZERO external dependencies outside the Go standard library.
// It holds the error taxonomy (NotFound, InvalidArgument, PermissionDenied,
// RateLimited, MalformedRequest) and the JSON request/response model spoken on
// the socket.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
