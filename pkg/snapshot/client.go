// Package snapshot resolves checkpoint references to local directories. A
// reference may already be a local directory; otherwise it is treated as a
// registry reference, served from a local cache when possible and pulled as
// an OCI artifact when not.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/vlmbench/llava-runner/pkg/logging"
	"github.com/vlmbench/llava-runner/pkg/snapshot/internal/store"
)

const defaultUserAgent = "llava-runner"

// Resolver resolves a checkpoint reference to a local directory.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Client is the cache-aware Resolver backed by a local store and a remote
// registry.
type Client struct {
	store         *store.Store
	log           logging.Logger
	remoteOptions []remote.Option
}

// Option configures a new Client.
type Option func(*options)

type options struct {
	storeRootPath string
	logger        logging.Logger
	transport     http.RoundTripper
	userAgent     string
}

// WithStoreRootPath sets the snapshot cache root.
func WithStoreRootPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.storeRootPath = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTransport sets the HTTP transport used for registry access.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		if transport != nil {
			o.transport = transport
		}
	}
}

// WithUserAgent sets the User-Agent header used for registry access.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

func defaultOptions() *options {
	return &options{
		logger:    logrus.NewEntry(logrus.StandardLogger()),
		transport: remote.DefaultTransport,
		userAgent: defaultUserAgent,
	}
}

// NewClient creates a snapshot client.
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.storeRootPath == "" {
		return nil, fmt.Errorf("store root path is required")
	}

	s, err := store.New(store.Options{RootPath: options.storeRootPath})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	return &Client{
		store: s,
		log:   options.logger,
		remoteOptions: []remote.Option{
			remote.WithAuthFromKeychain(authn.DefaultKeychain),
			remote.WithTransport(options.transport),
			remote.WithUserAgent(options.userAgent),
		},
	}, nil
}

// StorePath returns the cache root directory.
func (c *Client) StorePath() string {
	return c.store.RootPath()
}

// Resolve implements Resolver. Local directories resolve to themselves;
// everything else goes through the cache, pulling from the registry on a
// miss.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	if fi, err := os.Stat(ref); err == nil && fi.IsDir() {
		return filepath.Abs(ref)
	}

	if dir, ok := c.store.Lookup(ref); ok {
		c.log.Infoln("Using cached checkpoint snapshot:", dir)
		return dir, nil
	}

	c.log.Infoln("Checkpoint not cached, pulling:", ref)
	dir, err := c.pull(ctx, ref)
	if err != nil {
		return "", err
	}
	if err := c.store.Record(ref, dir); err != nil {
		return "", fmt.Errorf("recording snapshot: %w", err)
	}
	return dir, nil
}

// pull fetches the artifact for ref and unpacks its layers into the store.
func (c *Client) pull(ctx context.Context, ref string) (string, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return "", &ReferenceError{Reference: ref, Err: err}
	}

	opts := append([]remote.Option{remote.WithContext(ctx)}, c.remoteOptions...)
	img, err := remote.Image(parsed, opts...)
	if err != nil {
		return "", &PullError{Reference: ref, Err: err}
	}
	manifest, err := img.Manifest()
	if err != nil {
		return "", fmt.Errorf("reading manifest: %w", err)
	}
	layers, err := img.Layers()
	if err != nil {
		return "", fmt.Errorf("reading layers: %w", err)
	}

	target := c.store.SnapshotDir(ref)
	staging := target + ".tmp"
	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("cleaning staging dir: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}

	var totalBytes int64
	for i, layer := range layers {
		written, err := c.unpackLayer(staging, manifest.Layers[i], layer, i)
		if err != nil {
			os.RemoveAll(staging)
			return "", fmt.Errorf("layer %d: %w", i, err)
		}
		totalBytes += written
	}

	if err := os.RemoveAll(target); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("replacing snapshot dir: %w", err)
	}
	if err := os.Rename(staging, target); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("committing snapshot dir: %w", err)
	}

	c.log.Infof("Pulled checkpoint %s (%s, %d layers)",
		ref, units.HumanSizeWithPrecision(float64(totalBytes), 2), len(layers))
	return target, nil
}

// unpackLayer writes one artifact layer to disk, naming it from its title
// annotation and verifying its digest along the way.
func (c *Client) unpackLayer(dir string, desc v1.Descriptor, layer v1.Layer, index int) (int64, error) {
	title := desc.Annotations[ocispec.AnnotationTitle]
	if title == "" {
		title = fmt.Sprintf("layer-%d", index)
	}
	if !filepath.IsLocal(title) {
		return 0, fmt.Errorf("layer title %q escapes the snapshot dir", title)
	}
	path := filepath.Join(dir, filepath.FromSlash(title))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating layer dir: %w", err)
	}

	expected := digest.NewDigestFromEncoded(digest.Algorithm(desc.Digest.Algorithm), desc.Digest.Hex)
	if err := expected.Validate(); err != nil {
		return 0, fmt.Errorf("invalid layer digest: %w", err)
	}
	verifier := expected.Verifier()

	rc, err := layer.Compressed()
	if err != nil {
		return 0, fmt.Errorf("opening layer: %w", err)
	}
	defer rc.Close()

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating layer file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(io.MultiWriter(file, verifier), rc)
	if err != nil {
		return 0, fmt.Errorf("writing layer file: %w", err)
	}
	if !verifier.Verified() {
		return 0, fmt.Errorf("digest mismatch for %q (want %s)", title, expected)
	}
	c.log.Debugf("Unpacked %s (%s)", title, units.HumanSizeWithPrecision(float64(written), 2))
	return written, nil
}
