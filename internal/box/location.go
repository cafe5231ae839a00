// Package box turns box locations into Mechfile entries and manages the
// project-local cache of downloaded boxes.
package box

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBoxName is returned for catalog references that are not org/box.
var ErrInvalidBoxName = errors.New("Provided box name is not valid")

// Kind is the type of a box location.
type Kind int

const (
	// KindNone means no location was given.
	KindNone Kind = iota
	// KindURL is a direct http, https or ftp download URL.
	KindURL
	// KindCatalogFile is a catalog document saved on the local disk.
	KindCatalogFile
	// KindCatalogRef is an org/box reference resolved against the registry.
	KindCatalogRef
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindURL:
		return "url"
	case KindCatalogFile:
		return "catalog-file"
	case KindCatalogRef:
		return "catalog-ref"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var urlSchemes = []string{"http://", "https://", "ftp://"}

// Location is a classified box location.
type Location struct {
	Kind Kind
	// Raw is the location as given.
	Raw string
	// Path is the file path for KindCatalogFile.
	Path string
	// Org and Box are set for KindCatalogRef.
	Org string
	Box string
}

// Classify determines what kind of location s is. The empty string is
// KindNone. Anything that is not a URL or a file: path must be exactly
// org/box, otherwise ErrInvalidBoxName is returned.
func Classify(s string) (Location, error) {
	if s == "" {
		return Location{Kind: KindNone}, nil
	}

	for _, scheme := range urlSchemes {
		if strings.HasPrefix(s, scheme) {
			return Location{Kind: KindURL, Raw: s}, nil
		}
	}

	if rest, ok := strings.CutPrefix(s, "file:"); ok {
		path := rest
		if strings.HasPrefix(path, "//") {
			path = strings.TrimPrefix(path, "//")
		}
		if path == "" {
			return Location{}, fmt.Errorf("empty file location %q", s)
		}
		return Location{Kind: KindCatalogFile, Raw: s, Path: path}, nil
	}

	org, name, ok := strings.Cut(s, "/")
	if !ok || org == "" || name == "" || strings.Contains(name, "/") {
		return Location{}, fmt.Errorf("%w: %q (expected org/box)", ErrInvalidBoxName, s)
	}

	return Location{Kind: KindCatalogRef, Raw: s, Org: org, Box: name}, nil
}
