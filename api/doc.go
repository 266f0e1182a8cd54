// Package api serves the HTTP request surface of accountd.
//
// Routes:
//
//	GET|POST /api/v1/create_identity?username=&passphrase=&seed_words=
//	GET      /api/v1/status
//	GET      /metrics
//
// Identity creation is processed one request at a time; further requests
// wait for the running one. Every create_identity failure is reported as
// 400 with a fixed body, the cause is only logged.
package api
