// Package naming produces artifact file names of the form <prefix>-<id>.pdf.
//
// Generate checks each candidate against the artifact namespace and draws again
// on collision. The check and the later upload are separate operations, so two
// concurrent callers can still pick the same free name in between. Stores that
// support conditional writes close that window: the upload fails with
// domain.ErrObjectExists and the caller asks for a new name.
package naming

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the character set of generated ids.
	Alphabet = "1234567890abcdefghijklmnopqrstuvwxyz"
	// IDLength is the number of characters of a generated id.
	IDLength = 10
	// FallbackPrefix names artifacts of requests without a name.
	FallbackPrefix = "html2pdf"
)

// ExistsFunc reports whether an artifact with the given name already exists.
type ExistsFunc func(ctx context.Context, name string) (bool, error)

// Generator draws collision-free artifact names.
type Generator struct {
	exists ExistsFunc
	newID  func() (string, error)
}

// New returns a Generator checking candidates with exists.
func New(exists ExistsFunc) *Generator {
	return &Generator{exists: exists, newID: NewID}
}

// NewID returns a random id of IDLength characters drawn from Alphabet.
func NewID() (string, error) {
	return gonanoid.Generate(Alphabet, IDLength)
}

// Generate returns <prefix>-<id>.pdf for an id not present in the namespace.
// It loops until a free name is found or ctx is done.
func (g *Generator) Generate(ctx context.Context, prefix string) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id, err := g.newID()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		name := fmt.Sprintf("%s-%s.pdf", prefix, id)

		taken, err := g.exists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", name, err)
		}
		if !taken {
			return name, nil
		}
	}
}

// Fallback returns html2pdf-<id>.pdf without consulting the namespace.
func (g *Generator) Fallback() (string, error) {
	id, err := g.newID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return fmt.Sprintf("%s-%s.pdf", FallbackPrefix, id), nil
}
