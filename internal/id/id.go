// Package id generates unique identifiers for elements, links and
// pipelines, grounded on the teacher's newUID/xid.New() (pipe.go).
package id

import "github.com/rs/xid"

// New returns a new globally unique identifier string.
func New() string {
	return xid.New().String()
}
