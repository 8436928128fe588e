package iopkg

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3iface is the minimal subset of s3 client methods we use; allows test fakes.
type s3iface interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// newS3Client constructs an s3 client; overridden in tests.
// Env support: AWS_REGION, AWS_ENDPOINT_URL_S3, AWS_S3_FORCE_PATH_STYLE.
var newS3Client = func(ctx context.Context) (s3iface, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := os.Getenv("AWS_ENDPOINT_URL_S3"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if strings.EqualFold(os.Getenv("AWS_S3_FORCE_PATH_STYLE"), "true") {
			o.UsePathStyle = true
		}
	}), nil
}

// IsS3 reports whether uri uses the s3 scheme.
func IsS3(uri string) bool { return strings.HasPrefix(uri, "s3://") }

// Join appends name to a base that is either a local directory or an s3:// prefix.
func Join(base, name string) string {
	if IsS3(base) {
		return strings.TrimSuffix(base, "/") + "/" + name
	}
	return filepath.Join(strings.TrimPrefix(base, "file://"), name)
}

func splitS3(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.New("invalid s3 uri: " + uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Open returns a ReadCloser and (if known) size for file:// or s3:// URIs.
func Open(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, 0, err
	}
	switch u.Scheme {
	case "file", "":
		p := strings.TrimPrefix(uri, "file://")
		f, err := os.Open(p)
		if err != nil {
			return nil, 0, err
		}
		st, _ := f.Stat()
		var sz int64
		if st != nil {
			sz = st.Size()
		}
		return f, sz, nil
	case "s3":
		cl, err := newS3Client(ctx)
		if err != nil {
			return nil, 0, err
		}
		bkt, key, err := splitS3(uri)
		if err != nil {
			return nil, 0, err
		}
		resp, err := cl.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bkt), Key: aws.String(key),
		})
		if err != nil {
			return nil, 0, err
		}
		var sz int64
		if resp.ContentLength != nil {
			sz = *resp.ContentLength
		}
		return resp.Body, sz, nil
	default:
		return nil, 0, errors.New("unsupported scheme: " + u.Scheme)
	}
}

// OpenDecoded is Open plus transparent gunzip, detected by the gzip magic
// number or a .gz suffix.
func OpenDecoded(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	rc, sz, err := Open(ctx, uri)
	if err != nil {
		return nil, 0, err
	}
	br := bufio.NewReader(rc)
	sig, _ := br.Peek(2)
	if (len(sig) == 2 && sig[0] == 0x1f && sig[1] == 0x8b) || strings.HasSuffix(strings.ToLower(uri), ".gz") {
		gr, err := gzip.NewReader(br)
		if err != nil {
			_ = rc.Close()
			return nil, 0, err
		}
		return &multiReadCloser{Reader: gr, closers: []io.Closer{gr, rc}}, sz, nil
	}
	return &multiReadCloser{Reader: br, closers: []io.Closer{rc}}, sz, nil
}

type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// List returns the object names directly under an s3:// prefix, sorted.
// Objects in "sub-directories" are not included.
func List(ctx context.Context, prefixURI string) ([]string, error) {
	bkt, prefix, err := splitS3(prefixURI)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	cl, err := newS3Client(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	var token *string
	for {
		out, err := cl.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bkt),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			names = append(names, name)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether an s3:// URI names exactly one object.
func Exists(ctx context.Context, uri string) (bool, error) {
	bkt, key, err := splitS3(uri)
	if err != nil {
		return false, err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return false, nil
	}
	cl, err := newS3Client(ctx)
	if err != nil {
		return false, err
	}
	out, err := cl.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bkt),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 && aws.ToString(out.Contents[0].Key) == key, nil
}

// Parent returns the s3:// prefix containing uri.
func Parent(uri string) string {
	bkt, key, err := splitS3(uri)
	if err != nil {
		return uri
	}
	dir := path.Dir(key)
	if dir == "." {
		return "s3://" + bkt
	}
	return "s3://" + bkt + "/" + dir
}

// WriteFileAtomic writes data produced by fill to path through a temp file in
// the same directory and renames it into place only if fill succeeds.
func WriteFileAtomic(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()
	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := fill(bw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}
