package website

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flatstone/awsmgr/internal/aws"
	"github.com/flatstone/awsmgr/internal/logging"
)

// KeyPrefix is prepended to every uploaded object key
const KeyPrefix = "static_website/"

// Uploader uploads static website content to an S3 bucket
type Uploader struct {
	s3     aws.S3API
	bucket string
}

// NewUploader creates an uploader targeting the given bucket
func NewUploader(client aws.S3API, bucket string) *Uploader {
	return &Uploader{
		s3:     client,
		bucket: bucket,
	}
}

// UploadDir walks the content directory and uploads every file under the
// static_website/ key prefix with an inferred content type. CloudFormation
// template files living alongside the content are skipped. Returns the
// number of files uploaded.
func (u *Uploader) UploadDir(ctx context.Context, dir string) (int, error) {
	contentDir, err := ResolveContentDir(dir)
	if err != nil {
		return 0, err
	}

	if _, err := u.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &u.bucket}); err != nil {
		return 0, fmt.Errorf("S3 bucket %q not accessible: %w", u.bucket, err)
	}

	count := 0
	err = filepath.WalkDir(contentDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isTemplateFile(path) {
			logging.Debugf("skipping CloudFormation template %s", path)
			return nil
		}

		rel, err := filepath.Rel(contentDir, path)
		if err != nil {
			return err
		}
		key := KeyPrefix + filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %q: %w", path, err)
		}

		logging.Debugf("uploading %s to s3://%s/%s", path, u.bucket, key)
		_, err = u.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &u.bucket,
			Key:         &key,
			Body:        bytes.NewReader(data),
			ContentType: awssdk.String(contentType(path)),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %q: %w", key, err)
		}

		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	logging.Infof("uploaded %d files to s3://%s/%s", count, u.bucket, KeyPrefix)
	return count, nil
}

// ResolveContentDir returns the directory to upload from. When the solution
// directory has a content/ subdirectory, that subdirectory holds the actual
// site and the surrounding files are infrastructure.
func ResolveContentDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("content directory %q not found", dir)
	}

	sub := filepath.Join(dir, "content")
	if info, err := os.Stat(sub); err == nil && info.IsDir() {
		return sub, nil
	}
	return dir, nil
}

// isTemplateFile reports whether a path looks like a CloudFormation template
// rather than site content
func isTemplateFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return false
	}
	return strings.Contains(strings.ToLower(filepath.Base(path)), "cloudformation")
}

// contentType infers the content type from the file extension
func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
