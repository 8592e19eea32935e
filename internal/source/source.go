// Package source loads raw uploads from disk or S3 into datanorm.RawFile.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/smart-import/internal/datanorm"
)

// ErrTooLarge is returned when a file exceeds the configured size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// FormatFromName infers the container format from a file extension. An
// unrecognised extension leaves detection to the decoder.
func FormatFromName(name string) datanorm.Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return datanorm.FormatXLSX
	case ".csv", ".tsv", ".txt":
		return datanorm.FormatCSV
	}
	return datanorm.FormatAuto
}

// ReadLimited reads at most limit bytes. limit <= 0 disables the check.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}

// LoadFile reads a local export.
func LoadFile(p string, platform datanorm.Platform, limit int64) (datanorm.RawFile, error) {
	f, err := os.Open(p)
	if err != nil {
		return datanorm.RawFile{}, err
	}
	defer f.Close()

	data, err := ReadLimited(f, limit)
	if err != nil {
		return datanorm.RawFile{}, fmt.Errorf("read %s: %w", p, err)
	}
	name := filepath.Base(p)
	return datanorm.RawFile{Name: name, Platform: platform, Data: data, Format: FormatFromName(name)}, nil
}

// ObjectGetter is the subset of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader fetches exports that were uploaded to a bucket out of band.
type S3Loader struct {
	client ObjectGetter
	bucket string
	prefix string
	limit  int64
}

// NewS3Loader builds a loader. Keys are resolved under prefix unless they
// already start with it.
func NewS3Loader(client ObjectGetter, bucket, prefix string, limit int64) *S3Loader {
	return &S3Loader{client: client, bucket: bucket, prefix: prefix, limit: limit}
}

// NewS3LoaderFromConfig builds a loader on a real S3 client.
func NewS3LoaderFromConfig(cfg aws.Config, bucket, prefix string, limit int64) *S3Loader {
	return NewS3Loader(s3.NewFromConfig(cfg), bucket, prefix, limit)
}

func (l *S3Loader) key(k string) string {
	k = strings.TrimPrefix(k, "/")
	if l.prefix == "" || strings.HasPrefix(k, l.prefix) {
		return k
	}
	return path.Join(l.prefix, k)
}

// Load downloads one object.
func (l *S3Loader) Load(ctx context.Context, key string, platform datanorm.Platform) (datanorm.RawFile, error) {
	if l.bucket == "" {
		return datanorm.RawFile{}, errors.New("s3 bucket not configured")
	}
	full := l.key(key)
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return datanorm.RawFile{}, fmt.Errorf("get s3://%s/%s: %w", l.bucket, full, err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && l.limit > 0 && *out.ContentLength > l.limit {
		return datanorm.RawFile{}, fmt.Errorf("s3://%s/%s: %w (%d bytes)", l.bucket, full, ErrTooLarge, l.limit)
	}
	data, err := ReadLimited(out.Body, l.limit)
	if err != nil {
		return datanorm.RawFile{}, fmt.Errorf("read s3://%s/%s: %w", l.bucket, full, err)
	}
	name := path.Base(full)
	return datanorm.RawFile{Name: name, Platform: platform, Data: data, Format: FormatFromName(name)}, nil
}
