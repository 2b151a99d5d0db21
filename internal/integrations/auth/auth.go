// Package auth holds the request-signing strategies adapters compose.
package auth

import (
	"net/http"
)

// Strategy prepares an outgoing request. Apply may perform its own network calls
// (token exchange) using the request context.
type Strategy interface {
	Apply(req *http.Request) error
}

type Bearer struct{ Token string }

func (b Bearer) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

type Basic struct{ Username, Password string }

func (b Basic) Apply(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// Headers sets static headers.
type Headers map[string]string

func (h Headers) Apply(req *http.Request) error {
	for k, v := range h { req.Header.Set(k, v) }
	return nil
}

// Chain applies strategies in order, stopping at the first error.
type Chain []Strategy

func (c Chain) Apply(req *http.Request) error {
	for _, s := range c {
		if s == nil { continue }
		if err := s.Apply(req); err != nil { return err }
	}
	return nil
}
