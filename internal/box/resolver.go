package box

import (
	"context"
	"fmt"
	"os"

	"github.com/siderolabs/go-pointer"
	"go.uber.org/zap"

	"github.com/jbweber/mech/internal/catalog"
	"github.com/jbweber/mech/internal/mechfile"
)

// Request describes the box an instance should use.
type Request struct {
	// Location is a URL, a file: catalog path or an org/box reference.
	Location string
	// Name is the instance name recorded in the entry.
	Name string
	// Box and BoxVersion are carried into URL entries. For catalog
	// locations BoxVersion selects the version; empty means latest.
	Box        string
	BoxVersion string
	// Provider selects the catalog artifact; empty means catalog.DefaultProvider.
	Provider string
	// SharedFolders overrides mechfile.DefaultSharedFolders.
	SharedFolders []mechfile.SharedFolder
}

// Resolution is a resolved entry plus what the catalog said about the
// artifact, used to verify downloads.
type Resolution struct {
	Location     Location
	Entry        mechfile.Entry
	Checksum     string
	ChecksumType string
}

// Resolver builds Mechfile entries from box locations.
type Resolver struct {
	catalogs catalog.Fetcher
	readFile func(string) ([]byte, error)
	logger   *zap.Logger
}

// NewResolver returns a Resolver that looks up org/box references with f.
func NewResolver(f catalog.Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		catalogs: f,
		readFile: os.ReadFile,
		logger:   logger,
	}
}

// BuildEntry resolves req into a Mechfile entry. An empty location yields
// the zero entry, meaning there is nothing to persist.
func (r *Resolver) BuildEntry(ctx context.Context, req Request) (mechfile.Entry, error) {
	res, err := r.Resolve(ctx, req)
	if err != nil {
		return mechfile.Entry{}, err
	}
	return res.Entry, nil
}

// Resolve classifies req.Location and resolves it.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	loc, err := Classify(req.Location)
	if err != nil {
		return Resolution{}, err
	}

	switch loc.Kind {
	case KindNone:
		return Resolution{Location: loc}, nil

	case KindURL:
		return Resolution{Location: loc, Entry: entryFromURL(loc, req)}, nil

	case KindCatalogFile:
		r.logger.Debug("reading box catalog from file", zap.String("path", loc.Path))
		data, err := r.readFile(loc.Path)
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to read catalog file %s: %w", loc.Path, err)
		}
		cat, err := catalog.Parse(data)
		if err != nil {
			return Resolution{}, fmt.Errorf("invalid catalog file %s: %w", loc.Path, err)
		}
		return resolveCatalog(loc, cat, req)

	case KindCatalogRef:
		if r.catalogs == nil {
			return Resolution{}, fmt.Errorf("no catalog client configured to resolve %s", loc.Raw)
		}
		r.logger.Debug("fetching box catalog", zap.String("org", loc.Org), zap.String("box", loc.Box))
		cat, err := r.catalogs.Fetch(ctx, loc.Org, loc.Box)
		if err != nil {
			return Resolution{}, err
		}
		return resolveCatalog(loc, cat, req)

	default:
		return Resolution{}, fmt.Errorf("unsupported location kind %s", loc.Kind)
	}
}

// entryFromURL records a direct download. Box metadata is taken from the
// request, never inferred from the URL.
func entryFromURL(loc Location, req Request) mechfile.Entry {
	return mechfile.Entry{
		Name:          optional(req.Name),
		Box:           optional(req.Box),
		BoxVersion:    optional(req.BoxVersion),
		URL:           pointer.To(loc.Raw),
		SharedFolders: sharedFolders(req),
	}
}

// resolveCatalog selects the requested (or latest) version and provider.
func resolveCatalog(loc Location, cat *catalog.Catalog, req Request) (Resolution, error) {
	version, provider, err := cat.Select(req.BoxVersion, req.Provider)
	if err != nil {
		return Resolution{}, fmt.Errorf("could not resolve %s: %w", loc.Raw, err)
	}

	boxName := cat.BoxName()
	if boxName == "" && loc.Kind == KindCatalogRef {
		boxName = loc.Org + "/" + loc.Box
	}

	return Resolution{
		Location: loc,
		Entry: mechfile.Entry{
			Name:          optional(req.Name),
			Box:           optional(boxName),
			BoxVersion:    pointer.To(version.Version),
			URL:           pointer.To(provider.URL),
			SharedFolders: sharedFolders(req),
		},
		Checksum:     provider.Checksum,
		ChecksumType: provider.ChecksumType,
	}, nil
}

func sharedFolders(req Request) []mechfile.SharedFolder {
	if req.SharedFolders != nil {
		return req.SharedFolders
	}
	return mechfile.DefaultSharedFolders()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return pointer.To(s)
}
