package common

import (
	"github.com/apex/log"
)

// Component base structure for a Component
type Component struct {
	LogTags log.Fields
}

// RequestParam metadata of an inbound HTTP request, attached to the
// request context by the request ID middleware
type RequestParam struct {
	// ID is the request tracking ID
	ID string
	// Method is the HTTP method
	Method string
	// URI is the request URI
	URI string
}
