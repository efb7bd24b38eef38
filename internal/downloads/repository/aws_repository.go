package repository

import (
	"context"
	"io"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

type awsRepository struct {
	client *s3.Client
	bucket string
}

func NewAwsRepository(awsClient *s3.Client, bucket string) downloads.ArtifactStore {
	return &awsRepository{
		client: awsClient,
		bucket: bucket,
	}
}

func (a *awsRepository) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := a.client.PutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket:        &a.bucket,
			Key:           &key,
			ContentType:   &contentType,
			ContentLength: &size,
			Body:          body,
		},
	)
	if err != nil {
		return "", errors.Wrap(err, "awsRepository.PutObject")
	}
	return "s3://" + a.bucket + "/" + key, nil
}

func (a *awsRepository) RemoveObject(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return errors.Wrap(err, "awsRepository.RemoveObject")
	}
	return nil
}
