package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteSession        = "/session"
	RouteSessionRefresh = "/session/refresh"
	RouteSessionRevoke  = "/session/revoke"
)
