package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // 兼容 minio 等 S3 协议存储，为空则用 AWS
}

type S3Store struct {
	bucket   string
	baseURL  string
	uploader *s3manager.Uploader
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	baseURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
		baseURL = fmt.Sprintf("%s/%s", cfg.Endpoint, cfg.Bucket)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("blob: aws session: %w", err)
	}
	return &S3Store{
		bucket:   cfg.Bucket,
		baseURL:  baseURL,
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (Handle, error) {
	key = cleanKey(key)
	if key == "" || len(data) == 0 {
		return Handle{}, ErrEmpty
	}
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         aws.String("public-read"),
	})
	if err != nil {
		return Handle{}, fmt.Errorf("blob: s3 put %s: %w", key, err)
	}
	return Handle{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *S3Store) PublicURL(h Handle) string {
	return s.baseURL + "/" + h.Key
}
