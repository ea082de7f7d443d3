// Package web is the HTTP boundary of the Skycast portal. It owns the
// session cookie transport, the route guard in front of protected handlers,
// and the mapping from claim rejections to user-facing redirects and JSON
// errors. The single-session policy itself lives in internal/claim; this
// package never inspects claims directly.
package web
