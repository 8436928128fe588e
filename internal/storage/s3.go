// Package storage publishes the final artifacts of a run to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yourorg/textblast/internal/workspace"
)

// ObjectStore writes one object.
type ObjectStore interface {
	// Put writes body to uri (s3://bucket/key) and returns the final URI.
	Put(ctx context.Context, uri string, body io.Reader) (string, error)
}

type S3Client struct {
	uploader *manager.Uploader
}

// NewS3 creates an S3 uploader honoring env configuration for MinIO.
// Env support: AWS_REGION, AWS_ENDPOINT_URL_S3, AWS_S3_FORCE_PATH_STYLE.
func NewS3(ctx context.Context) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := os.Getenv("AWS_ENDPOINT_URL_S3"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if strings.EqualFold(os.Getenv("AWS_S3_FORCE_PATH_STYLE"), "true") {
			o.UsePathStyle = true
		}
	})
	return &S3Client{uploader: manager.NewUploader(client)}, nil
}

func parseS3(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.New("invalid s3 uri")
	}
	return
}

func (s *S3Client) Put(ctx context.Context, uri string, body io.Reader) (string, error) {
	b, k, err := parseS3(uri)
	if err != nil {
		return "", err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{Bucket: &b, Key: &k, Body: body})
	if err != nil {
		return "", err
	}
	return uri, nil
}

// Publish copies every file under outputFolder to prefix, keeping relative
// paths. Scratch directories left by a kept workspace are skipped. It
// returns the written URIs in path order.
func Publish(ctx context.Context, store ObjectStore, outputFolder, prefix string) ([]string, error) {
	if !strings.HasPrefix(prefix, "s3://") {
		return nil, fmt.Errorf("publish target %q is not an s3:// prefix", prefix)
	}
	root, err := filepath.Abs(outputFolder)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && filepath.Dir(rel) == "." && workspace.IsScratch(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	base := strings.TrimSuffix(prefix, "/")
	out := make([]string, 0, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		uri, err := putFile(ctx, store, filepath.Join(root, filepath.FromSlash(rel)), base+"/"+rel)
		if err != nil {
			return out, fmt.Errorf("publish %s: %w", rel, err)
		}
		out = append(out, uri)
	}
	return out, nil
}

func putFile(ctx context.Context, store ObjectStore, path, uri string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return store.Put(ctx, uri, f)
}
