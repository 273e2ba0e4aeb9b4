package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-commerce-erpsync/internal/aws"
)

// S3Sink stores records as objects under bucket/prefix. Conditional writes
// (If-None-Match: *) keep an existing object from being replaced.
type S3Sink struct {
	client aws.S3API
	bucket string
	prefix string
}

func NewS3Sink(client aws.S3API, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Sink) Archive(ctx context.Context, rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	prefix := dayPrefix(rec)
	seq, err := s.nextSeq(ctx, prefix)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxCreateRace; i++ {
		name := entryName(prefix, seq)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      awssdk.String(s.bucket),
			Key:         awssdk.String(s.key(name)),
			Body:        bytes.NewReader(data),
			ContentType: awssdk.String("application/json"),
			IfNoneMatch: awssdk.String("*"),
		})
		if isPreconditionFailed(err) {
			seq++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("put archive object: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("archive sequence contention for %s", prefix)
}

func (s *S3Sink) nextSeq(ctx context.Context, prefix string) (int, error) {
	max := 0
	listPrefix := s.key(prefix)
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            awssdk.String(s.bucket),
			Prefix:            awssdk.String(listPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, fmt.Errorf("list archive objects: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			if n, ok := parseSeq(path.Base(*obj.Key), prefix); ok && n > max {
				max = n
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return max + 1, nil
}

func (s *S3Sink) Load(ctx context.Context, ref string) (*Record, error) {
	if ref == "" || strings.Contains(ref, "/") {
		return nil, fmt.Errorf("invalid archive ref %q", ref)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(s.key(ref)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get archive object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive object: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode archive object: %w", err)
	}
	return &rec, nil
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "PreconditionFailed"
	}
	return false
}
