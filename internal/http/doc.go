// Package http exposes the shift compliance services over JSON.
//
// Every route except GET /healthz expects the acting user id in the X-User-ID
// header; RequirePrincipal resolves it through the user directory. Instants
// are RFC 3339 (or local "2006-01-02T15:04"), date filters are YYYY-MM-DD in
// the configured zone, and lists use the page envelope
// {count, results, page, page_size, total_pages, has_next, has_previous}.
//
//   - POST /shifts, GET /shifts, GET /shifts/upcoming, GET /shifts/current,
//     GET|PATCH|DELETE /shifts/{id}, POST /shifts/{id}/cancel
//   - POST /shifts/{id}/check-compliance, POST /compliance/sweep,
//     GET /compliance/daily-summary?date=
//   - POST /sessions/enter, POST /sessions/{id}/exit, GET /sessions/active,
//     GET /sessions/history, GET /sessions/validate-access?room=&at=
//   - POST /courses, GET /courses, GET|PATCH|DELETE /courses/{id},
//     GET /courses/{id}/history
//   - POST /rooms, GET /rooms, GET|PATCH|DELETE /rooms/{id},
//     POST /rooms/{id}/deactivate
//   - GET /users/admins, GET|PUT /users/{id}
//   - GET /notifications, POST /notifications/{id}/read
//
// Errors render as {error, kind, details?, suggestion?}. Input shape errors
// are 400, forbidden 403, not-found 404, the remaining authorization kinds
// 422, business conflicts 409, timeouts 504 and an unavailable store 503.
package http
