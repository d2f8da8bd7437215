package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Upload is one local file and the object it is published as.
type Upload struct {
	LocalPath string
	Object    string
	// Overwrite replaces an existing object. Immutable artifacts are
	// written create-if-absent instead.
	Overwrite bool
}

// Publisher copies a results tree into a GCS bucket.
type Publisher struct {
	bucket     *storage.BucketHandle
	bucketName string
	Prefix     string
	Logger     *slog.Logger
	MaxRetries int
	Backoff    time.Duration
	// Concurrency bounds parallel uploads.
	Concurrency int
}

func NewPublisher(client *storage.Client, bucket, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		bucket:      client.Bucket(bucket),
		bucketName:  bucket,
		Prefix:      strings.Trim(prefix, "/"),
		Logger:      logger,
		MaxRetries:  4,
		Backoff:     1 * time.Second,
		Concurrency: 10,
	}
}

// URI is the gs:// location of the published tree.
func (p *Publisher) URI() string {
	return ResultsURI(p.bucketName, p.Prefix)
}

// ResultsURI formats the gs:// location of prefix inside bucket.
func ResultsURI(bucket, prefix string) string {
	if prefix == "" {
		return "gs://" + bucket
	}
	return "gs://" + bucket + "/" + prefix
}

// ObjectName maps a path relative to the results root onto an object name.
func ObjectName(prefix, rel string) string {
	return path.Join(prefix, filepath.ToSlash(rel))
}

// PlanTree lists the uploads for a results root: every manifest and page
// image under <root>/<doc>/<stage>/ plus the aggregate report, which is the
// only object that gets overwritten. The plan is sorted by object name.
func PlanTree(root, prefix, reportName string) ([]Upload, error) {
	var plan []Upload
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		switch {
		case len(parts) == 1 && parts[0] == reportName:
			plan = append(plan, Upload{LocalPath: p, Object: ObjectName(prefix, rel), Overwrite: true})
		case len(parts) == 3 && isArtifact(parts[2]):
			plan = append(plan, Upload{LocalPath: p, Object: ObjectName(prefix, rel)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	slices.SortFunc(plan, func(a, b Upload) int { return strings.Compare(a.Object, b.Object) })
	return plan, nil
}

// Temp files from interrupted atomic writes start with a dot and are skipped.
func isArtifact(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := path.Ext(name)
	return ext == ".json" || ext == ".png"
}

// PublishTree uploads the results under root that are not yet in the
// bucket and returns how many objects it wrote.
func (p *Publisher) PublishTree(ctx context.Context, root, reportName string) (int, error) {
	plan, err := PlanTree(root, p.Prefix, reportName)
	if err != nil {
		return 0, err
	}
	existing, err := p.ListObjects(ctx)
	if err != nil {
		return 0, err
	}
	plan = SkipExisting(plan, existing)
	p.Logger.Info("Starting concurrent upload of results.", "objects", len(plan), "alreadyPublished", len(existing), "destination", p.URI())

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(p.Concurrency, 1))
	for _, u := range plan {
		eg.Go(func() error {
			return p.PublishFile(gctx, u)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, fmt.Errorf("one or more results failed to upload: %w", err)
	}
	p.Logger.Info("All results uploaded successfully.", "objects", len(plan))
	return len(plan), nil
}

// ListObjects returns the names of every object under the prefix.
func (p *Publisher) ListObjects(ctx context.Context) (map[string]bool, error) {
	query := &storage.Query{Prefix: p.Prefix}
	if p.Prefix != "" {
		query.Prefix += "/"
	}
	it := p.bucket.Objects(ctx, query)

	names := make(map[string]bool)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list published results: %w", err)
		}
		names[attrs.Name] = true
	}
	return names, nil
}

// SkipExisting drops create-if-absent uploads whose object already exists.
func SkipExisting(plan []Upload, existing map[string]bool) []Upload {
	kept := plan[:0:0]
	for _, u := range plan {
		if u.Overwrite || !existing[u.Object] {
			kept = append(kept, u)
		}
	}
	return kept
}

// PublishFile uploads one file, retrying with exponential backoff. An
// object that already exists satisfies a create-if-absent upload.
func (p *Publisher) PublishFile(ctx context.Context, u Upload) error {
	backoff := p.Backoff
	var lastErr error

	for i := 0; i < p.MaxRetries; i++ {
		err := p.write(ctx, u)
		if err == nil {
			return nil
		}
		if isPreconditionFailed(err) {
			p.Logger.Debug("Object already exists. Skipping.", "gcsObject", u.Object)
			return nil
		}

		lastErr = err
		p.Logger.Warn(
			"Upload failed, will retry.",
			"gcsObject", u.Object,
			"attempt", i+1,
			"maxRetries", p.MaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			p.Logger.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", u.Object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	p.Logger.Error("Upload failed after all retries.", "gcsObject", u.Object, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", u.Object, lastErr)
}

func (p *Publisher) write(ctx context.Context, u Upload) error {
	f, err := os.Open(u.LocalPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", u.LocalPath, err)
	}
	defer f.Close()

	writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
	defer cancel()

	obj := p.bucket.Object(u.Object)
	if !u.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(writeCtx)
	w.ContentType = contentType(u.Object)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func contentType(object string) string {
	switch path.Ext(object) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	}
	return "application/octet-stream"
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// Download streams gs://bucket/object into destPath.
func Download(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		_ = localFile.Close()
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return localFile.Close()
}
