package builder

import (
	"errors"
	"fmt"

	"github.com/andybalholm/cascadia"
	"github.com/spf13/cast"
)

// ErrSignature is wrapped by every signature validation failure.
var ErrSignature = errors.New("invalid deferred signature")

// Signature configures one deferred block.
type Signature struct {
	// URL is fetched when the block is created. Required.
	URL string
	// As names the model type the result is cast into.
	As string
	// Key is the natural key served from the model store when present. Requires As.
	Key string
	// ID names the block for Onload.
	ID string
	// Pluck projects one field of the response before rendering.
	Pluck string
	// Paginate is a selector for the list container load-more pages append to.
	Paginate string
	// Extract is a selector narrowing the rendered body.
	Extract string

	paginate cascadia.Selector
	extract  cascadia.Selector
}

// NewSignature builds a Signature from name/value pairs, as written in
// templates:
//
//	{{deferred (sig "url" $url "as" "app" "key" .Args.slug) "app/detail"}}
func NewSignature(pairs ...any) (Signature, error) {
	var s Signature
	if len(pairs)%2 != 0 {
		return s, fmt.Errorf("%w: odd number of arguments", ErrSignature)
	}
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			return s, fmt.Errorf("%w: field name %v is not a string", ErrSignature, pairs[i])
		}
		value, err := cast.ToStringE(pairs[i+1])
		if err != nil {
			return s, fmt.Errorf("%w: %s: %v", ErrSignature, name, err)
		}
		switch name {
		case "url":
			s.URL = value
		case "as":
			s.As = value
		case "key":
			s.Key = value
		case "id":
			s.ID = value
		case "pluck":
			s.Pluck = value
		case "paginate":
			s.Paginate = value
		case "extract":
			s.Extract = value
		default:
			return s, fmt.Errorf("%w: unknown field %q", ErrSignature, name)
		}
	}
	return s, s.compile()
}

// Validate reports whether the signature is usable.
func (s *Signature) Validate() error {
	return s.compile()
}

func (s *Signature) compile() error {
	if s.URL == "" {
		return fmt.Errorf("%w: url is required", ErrSignature)
	}
	if s.Key != "" && s.As == "" {
		return fmt.Errorf("%w: key requires as", ErrSignature)
	}
	var err error
	if s.Paginate != "" {
		if s.paginate, err = cascadia.Compile(s.Paginate); err != nil {
			return fmt.Errorf("%w: paginate %q: %v", ErrSignature, s.Paginate, err)
		}
	}
	if s.Extract != "" {
		if s.extract, err = cascadia.Compile(s.Extract); err != nil {
			return fmt.Errorf("%w: extract %q: %v", ErrSignature, s.Extract, err)
		}
	}
	return nil
}
