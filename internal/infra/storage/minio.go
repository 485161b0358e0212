package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
)

// objectPutter is the part of *minio.Client the archive writes through.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive writes every security event as one JSON object. It implements
// audit.Sink and never overwrites: keys carry the event id.
type Archive struct {
	client     objectPutter
	bucketName string
	prefix     string
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey, prefix string, useSSL bool) (*Archive, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Archive{client: cli, bucketName: bucket, prefix: prefix}, nil
}

// ObjectKey is prefix/business/yyyy/mm/dd/id.json.
func (a *Archive) ObjectKey(e audit.SecurityEvent) string {
	biz := e.BusinessID
	if biz == "" {
		biz = "_unknown"
	}
	ts := e.Timestamp.UTC()
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s.json", biz, ts.Year(), ts.Month(), ts.Day(), e.ID)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

func (a *Archive) Append(ctx context.Context, e audit.SecurityEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucketName, a.ObjectKey(e), bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"event-type": string(e.Type)},
		})
	if err != nil {
		return fmt.Errorf("archive security event: %w", err)
	}
	return nil
}
