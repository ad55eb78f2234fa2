// Package http provides the REST handlers of the gateway.
//
// Every route under /api runs behind the auth middleware and acts as the
// authenticated user. Failures answer with
//
//	{"success": false, "kind": "not_found", "error": "...", "limit": 10}
//
// where kind is the apperr kind and the status follows apperr.HTTPStatus.
package http
