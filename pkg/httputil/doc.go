// Package httputil holds the JSON request and response helpers and the
// generic middleware shared by the HTTP handlers.
//
// Errors are always written as an ErrorResponse:
//
//	{"error": "...", "code": "hierarchy_violation"}
//
// A compensation failure additionally sets "requires_intervention": true.
//
// A typical chain:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		observability.RecoverMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//		httputil.ContentTypeMiddleware,
//	)(router)
package httputil
