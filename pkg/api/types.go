package api

import (
	"net/http"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// ListResponse is returned by the list endpoint.
type ListResponse struct {
	Subscriptions []*billing.Subscription `json:"subscriptions"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Route is one endpoint, for mounting on routers other than net/http's mux.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}
