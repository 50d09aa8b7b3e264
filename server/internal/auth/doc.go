// Package auth provides authentication middleware for nasalertd.
//
// APIKey(mode, header, key) wraps an http.Handler and validates the API key
// from the named request header. Websocket clients, which cannot set
// headers from a browser, may pass the key as the api_key query parameter.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). A missing or incorrect key is
// answered with 401 and a JSON error body.
package auth
