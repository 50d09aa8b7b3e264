// Package api implements the HTTP JSON API of nasalertd.
//
// New(alerts, identities) returns an http.Handler that serves, under /api/v2.0:
//
//	GET  /alert/list/             live alerts, optional ?id= filter
//	GET  /alert/list_categories/  categories with their registered classes
//	GET  /alert/list_policies/    IMMEDIATELY, HOURLY, DAILY, NEVER
//	POST /alert/dismiss/          body: "<id>"; 404 if unknown
//	POST /alert/restore/          body: "<id>"; 404 if unknown
//	POST /alert/oneshot_create/   body: {"klass": ..., "args": {...}}
//	POST /alert/oneshot_delete/   body: {"klass": ..., "query": ...}
//	GET  /alert/classes/          classes with effective level and policy
//	GET  /user/  /user/{id}/      users, or one user by name or uid
//	GET  /group/ /group/{id}/     groups, or one group by name or gid
//
// All endpoints respond with Content-Type: application/json, return 405 for
// the wrong method and use {"error": "..."} bodies for failures. Wire types
// live in pkg/types. No external HTTP framework is used.
package api
