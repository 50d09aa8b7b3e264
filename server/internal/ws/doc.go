// Package ws streams the live alert list to websocket subscribers.
//
// A subscriber gets the list as soon as it connects, then again whenever it
// changes: on every Kick (the daemon kicks after each alert change) and on a
// periodic tick that catches anything a kick missed. Frames look like
//
//	{"event": "alerts", "data": [ ...same schema as GET /api/v2.0/alert/list/... ]}
//
// The daemon mounts the hub at /ws/alerts behind the API key middleware.
package ws
