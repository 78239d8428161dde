package domain

import "errors"

var (
	// ErrMissingAPIKey signals a request without a bearer token.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrInvalidAPIKey signals a bearer token that matches no credential.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrCredentialNotFound is returned by credential stores when no row matches.
	ErrCredentialNotFound = errors.New("credential not found")

	ErrFetch    = errors.New("fetch failed")
	ErrTemplate = errors.New("template failed")
	ErrRender   = errors.New("render failed")
	ErrUpload   = errors.New("upload failed")
	ErrInternal = errors.New("internal error")

	// ErrObjectExists is returned by a conditional upload when the key is already taken.
	ErrObjectExists = errors.New("object already exists")
)

// Stage names the pipeline step an error belongs to. Used for server-side logs only.
func Stage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrTemplate):
		return "template"
	case errors.Is(err, ErrRender):
		return "render"
	case errors.Is(err, ErrObjectExists), errors.Is(err, ErrUpload):
		return "upload"
	default:
		return "internal"
	}
}
