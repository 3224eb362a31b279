// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storage implements the object store session over S3.
package storage

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/juju/errors"
)

// S3Client covers the S3 operations the session uses, for test
// substitution.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Session implements objectstore.Session over one S3 bucket.
type S3Session struct {
	client S3Client
	bucket string
}

// NewS3Session returns a session over the given bucket.
func NewS3Session(client S3Client, bucket string) (*S3Session, error) {
	if client == nil {
		return nil, errors.NotValidf("missing client")
	}
	if bucket == "" {
		return nil, errors.NotValidf("missing bucket")
	}
	return &S3Session{client: client, bucket: bucket}, nil
}

// PutObject implements objectstore.Session.
func (s *S3Session) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType(key)),
	})
	return errors.Annotatef(err, "putting s3://%s/%s", s.bucket, key)
}

// GetObject implements objectstore.Session.
func (s *S3Session) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, errors.NotFoundf("object %q", key)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "getting s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "reading s3://%s/%s", s.bucket, key)
	}
	return body, nil
}

// ListObjects implements objectstore.Session. S3 returns keys in
// lexicographic order already; pagination is followed to exhaustion.
func (s *S3Session) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, errors.Annotatef(err, "listing s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return "application/octet-stream"
}
