// Package catalog reads box catalogs: the versioned metadata documents a box
// registry serves for an org/box reference, or that a user saved to disk.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blang/semver/v4"
)

// DefaultProvider is the provider requested when none is given.
const DefaultProvider = "vmware"

// ErrNoMatch is returned when no version/provider pair satisfies a request.
var ErrNoMatch = errors.New("no matching box version and provider in catalog")

// Catalog is the metadata document for one box.
type Catalog struct {
	Tag         string    `json:"tag,omitempty"`
	Name        string    `json:"name,omitempty"`
	Username    string    `json:"username,omitempty"`
	Description string    `json:"description,omitempty"`
	Versions    []Version `json:"versions"`
}

// Version is one published version of a box.
type Version struct {
	Version   string     `json:"version"`
	Status    string     `json:"status,omitempty"`
	Providers []Provider `json:"providers"`
}

// Provider is one hypervisor-specific artifact of a version.
type Provider struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Checksum     string `json:"checksum,omitempty"`
	ChecksumType string `json:"checksum_type,omitempty"`
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &c, nil
}

// BoxName returns the org/box reference the catalog describes.
func (c *Catalog) BoxName() string {
	switch {
	case c.Tag != "":
		return c.Tag
	case c.Username != "" && c.Name != "":
		return c.Username + "/" + c.Name
	default:
		return c.Name
	}
}

// Select picks the version and provider artifact for a request.
//
// An empty version selects the highest version that offers the provider.
// Versions are compared as semver (tolerant parsing); versions that do not
// parse rank below those that do and keep document order among themselves.
// An empty provider selects DefaultProvider. A catalog provider matches when
// its name equals the requested name or starts with "<requested>_", so
// "vmware" matches "vmware_desktop".
func (c *Catalog) Select(version, provider string) (Version, Provider, error) {
	if len(c.Versions) == 0 {
		return Version{}, Provider{}, fmt.Errorf("catalog for %q has no versions: %w", c.BoxName(), ErrNoMatch)
	}
	if provider == "" {
		provider = DefaultProvider
	}

	candidates := c.Versions
	if version == "" {
		candidates = sortedByVersion(c.Versions)
	}

	for _, v := range candidates {
		if version != "" && v.Version != version {
			continue
		}
		if p, ok := v.provider(provider); ok {
			return v, p, nil
		}
	}

	if version != "" {
		return Version{}, Provider{}, fmt.Errorf("version %q with provider %q not found for %q: %w", version, provider, c.BoxName(), ErrNoMatch)
	}
	return Version{}, Provider{}, fmt.Errorf("no version with provider %q found for %q: %w", provider, c.BoxName(), ErrNoMatch)
}

func (v Version) provider(name string) (Provider, bool) {
	for _, p := range v.Providers {
		if MatchProvider(p.Name, name) {
			return p, true
		}
	}
	return Provider{}, false
}

// MatchProvider reports whether catalog provider name have satisfies a
// requested provider name.
func MatchProvider(have, want string) bool {
	return have == want || strings.HasPrefix(have, want+"_")
}

// sortedByVersion returns versions ordered newest first.
func sortedByVersion(versions []Version) []Version {
	type ranked struct {
		v      Version
		parsed *semver.Version
	}

	rs := make([]ranked, 0, len(versions))
	for _, v := range versions {
		r := ranked{v: v}
		if sv, err := semver.ParseTolerant(v.Version); err == nil {
			r.parsed = &sv
		}
		rs = append(rs, r)
	}

	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].parsed, rs[j].parsed
		switch {
		case a != nil && b != nil:
			return a.GT(*b)
		case a != nil:
			return true
		default:
			return false
		}
	})

	out := make([]Version, len(rs))
	for i, r := range rs {
		out[i] = r.v
	}
	return out
}
