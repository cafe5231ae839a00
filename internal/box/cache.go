package box

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	getter "github.com/hashicorp/go-getter/v2"
	"go.uber.org/zap"

	"github.com/jbweber/mech/internal/catalog"
)

// Messages reported by cache operations.
const (
	MessageCheckingIntegrity = "Checking integrity"
	MessageLoadingMetadata   = "Loading metadata"
	MessageRemoved           = "Removed "
	MessageNothingRemoved    = "No boxes were removed"
	MessageInvalidProvider   = "Need to provide valid provider"
)

var (
	// ErrInvalidProvider is returned for providers the cache cannot hold.
	ErrInvalidProvider = errors.New(MessageInvalidProvider)

	// ErrInvalidCachePath is returned for box names or versions that do not
	// name a single directory under the cache root.
	ErrInvalidCachePath = errors.New("box name or version is not a valid cache path")
)

// ValidateProvider accepts the empty provider and anything matching
// catalog.DefaultProvider.
func ValidateProvider(p string) error {
	if p == "" || catalog.MatchProvider(p, catalog.DefaultProvider) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidProvider, p)
}

type downloader interface {
	Get(ctx context.Context, req *getter.Request) (*getter.GetResult, error)
}

// Cache stores extracted boxes under <project>/.mech/boxes/<org>/<box>/<version>.
type Cache struct {
	root   string
	client downloader
	logger *zap.Logger
}

// NewCache returns a cache rooted in the project's .mech directory.
func NewCache(projectDir string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		root:   filepath.Join(projectDir, ".mech", "boxes"),
		client: &getter.Client{},
		logger: logger,
	}
}

// Root is the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Dir is where box at version is extracted.
func (c *Cache) Dir(box, version string) string {
	return filepath.Join(c.root, filepath.FromSlash(box), version)
}

// Has reports whether box at version is already cached.
func (c *Cache) Has(box, version string) bool {
	info, err := os.Stat(c.Dir(box, version))
	return err == nil && info.IsDir()
}

// AddRequest describes a box artifact to download.
type AddRequest struct {
	Box          string
	Version      string
	URL          string
	Checksum     string
	ChecksumType string
	Force        bool
}

// AddResult reports what Add did.
type AddResult struct {
	Dir      string
	Cached   bool
	Messages []string
}

// Add downloads and extracts a box. An existing copy is kept unless
// req.Force is set.
func (c *Cache) Add(ctx context.Context, req AddRequest) (AddResult, error) {
	if req.Box == "" || req.Version == "" {
		return AddResult{}, fmt.Errorf("box name and version are required to cache %s", req.URL)
	}
	if req.URL == "" {
		return AddResult{}, fmt.Errorf("no download URL for %s %s", req.Box, req.Version)
	}
	if err := validateCachePath(req.Box, req.Version); err != nil {
		return AddResult{}, err
	}

	dir := c.Dir(req.Box, req.Version)
	if !c.contains(dir) {
		return AddResult{}, fmt.Errorf("%w: %s is outside %s", ErrInvalidCachePath, dir, c.root)
	}
	if c.Has(req.Box, req.Version) && !req.Force {
		c.logger.Debug("box already cached", zap.String("dir", dir))
		return AddResult{Dir: dir, Cached: true}, nil
	}

	src, err := sourceURL(req)
	if err != nil {
		return AddResult{}, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return AddResult{}, fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return AddResult{}, fmt.Errorf("failed to create cache directory: %w", err)
	}

	var result AddResult
	result.Dir = dir
	if req.Checksum != "" {
		result.Messages = append(result.Messages, MessageCheckingIntegrity)
	}

	c.logger.Info("downloading box",
		zap.String("box", req.Box),
		zap.String("version", req.Version),
		zap.String("url", req.URL))

	if _, err := c.client.Get(ctx, &getter.Request{
		Src:     src,
		Dst:     dir,
		GetMode: getter.ModeDir,
	}); err != nil {
		_ = os.RemoveAll(dir)
		return AddResult{}, fmt.Errorf("failed to download %s: %w", req.URL, err)
	}

	result.Messages = append(result.Messages, MessageLoadingMetadata)
	return result, nil
}

// validateCachePath accepts an org/box name and a version that are each
// plain directory names.
func validateCachePath(box, version string) error {
	org, name, ok := strings.Cut(box, "/")
	if !ok || !plainSegment(org) || !plainSegment(name) || !plainSegment(version) {
		return fmt.Errorf("%w: box %q version %q", ErrInvalidCachePath, box, version)
	}
	return nil
}

func plainSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// contains reports whether dir lies strictly below the cache root.
func (c *Cache) contains(dir string) bool {
	rel, err := filepath.Rel(c.root, dir)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// sourceURL adds the go-getter archive and checksum parameters.
func sourceURL(req AddRequest) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("invalid box URL %q: %w", req.URL, err)
	}

	q := u.Query()
	if q.Get("archive") == "" {
		q.Set("archive", "tar.gz")
	}
	if req.Checksum != "" {
		sum := req.Checksum
		if req.ChecksumType != "" {
			sum = strings.ToLower(req.ChecksumType) + ":" + req.Checksum
		}
		q.Set("checksum", sum)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// CachedBox is one extracted box.
type CachedBox struct {
	Box     string
	Version string
	Path    string
	Size    int64
}

// List returns the cached boxes sorted by name then version.
func (c *Cache) List() ([]CachedBox, error) {
	versionDirs, err := filepath.Glob(filepath.Join(c.root, "*", "*", "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}

	var boxes []CachedBox
	for _, dir := range versionDirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(c.root, dir)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		size, err := dirSize(dir)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, CachedBox{
			Box:     parts[0] + "/" + parts[1],
			Version: parts[2],
			Path:    dir,
			Size:    size,
		})
	}

	sort.Slice(boxes, func(i, j int) bool {
		if boxes[i].Box != boxes[j].Box {
			return boxes[i].Box < boxes[j].Box
		}
		return boxes[i].Version < boxes[j].Version
	})

	return boxes, nil
}

// Remove deletes box at version, or every version of box when version is
// empty. It returns one message per removed version, or MessageNothingRemoved.
func (c *Cache) Remove(box, version string) ([]string, error) {
	boxes, err := c.List()
	if err != nil {
		return nil, err
	}

	var messages []string
	for _, b := range boxes {
		if b.Box != box || (version != "" && b.Version != version) {
			continue
		}
		if err := os.RemoveAll(b.Path); err != nil {
			return messages, fmt.Errorf("failed to remove %s %s: %w", b.Box, b.Version, err)
		}
		c.logger.Info("removed box", zap.String("box", b.Box), zap.String("version", b.Version))
		messages = append(messages, MessageRemoved+b.Box+" "+b.Version)
	}

	if len(messages) == 0 {
		return []string{MessageNothingRemoved}, nil
	}

	// drop the box directory once its last version is gone
	boxDir := filepath.Join(c.root, filepath.FromSlash(box))
	if entries, err := os.ReadDir(boxDir); err == nil && len(entries) == 0 {
		_ = os.Remove(boxDir)
	}

	return messages, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", dir, err)
	}
	return total, nil
}
