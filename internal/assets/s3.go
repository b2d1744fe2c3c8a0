// Package assets stores uploaded background images and token art in S3,
// adapted from the teacher's unwired storage/s3.go stub into a real
// upload/fetch path for SPEC_FULL §10.3's asset packs.
package assets

import (
	"bytes"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Store puts and fetches room assets in a single S3 bucket, one key
// prefix per room so a room export can enumerate its own assets.
type Store struct {
	client *s3.S3
	bucket string
	region string
}

// New builds a Store against bucket in region.
func New(region, bucket string) (*Store, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("open s3 session: %w", err)
	}
	return &Store{client: s3.New(sess), bucket: bucket, region: region}, nil
}

func objectKey(roomID, assetID, filename string) string {
	return path.Join("rooms", roomID, "assets", assetID+path.Ext(filename))
}

// Upload stores an asset (background image, token art) under roomID and
// returns its public URL. contentType is trusted from the client's
// declared upload; callers should already have size-checked the body.
func (s *Store) Upload(roomID, assetID, filename, contentType string, body []byte) (string, error) {
	key := objectKey(roomID, assetID, filename)
	_, err := s.client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload asset %s/%s: %w", roomID, assetID, err)
	}
	return s.URL(key), nil
}

// URL builds the public object URL for key (the bucket is assumed to
// serve public-read asset objects, the same trust model the teacher's
// background-url field already assumes for externally hosted images).
func (s *Store) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// Delete removes an asset object.
func (s *Store) Delete(roomID, assetID, filename string) error {
	key := objectKey(roomID, assetID, filename)
	_, err := s.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete asset %s/%s: %w", roomID, assetID, err)
	}
	return nil
}

// PresignUpload returns a short-lived presigned PUT URL so clients can
// upload directly to S3 without routing the asset body through the API
// process.
func (s *Store) PresignUpload(roomID, assetID, filename, contentType string) (string, error) {
	key := objectKey(roomID, assetID, filename)
	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	url, err := req.Presign(15 * time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign upload %s/%s: %w", roomID, assetID, err)
	}
	return url, nil
}

// maxAssetBytes caps direct (non-presigned) uploads routed through the API.
const maxAssetBytes = 8 << 20

// ValidateUpload checks a direct-upload request's content length before
// it's read into memory.
func ValidateUpload(r *http.Request) error {
	if r.ContentLength > maxAssetBytes {
		return fmt.Errorf("asset too large: %d bytes (max %d)", r.ContentLength, maxAssetBytes)
	}
	return nil
}
