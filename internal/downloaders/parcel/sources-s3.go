package parcel

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

// S3API is the part of the S3 client the source needs.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Source struct {
	bucket string
	key    string
	mu     sync.Mutex
	client S3API
}

func parseS3URL(link string) (string, string, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url %s: %v", link, err)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url %s: expected s3://bucket/key", link)
	}
	return parsed.Host, key, nil
}

func newS3Source(link string) (*s3Source, error) {
	bucket, key, err := parseS3URL(link)
	if err != nil {
		return nil, err
	}
	return &s3Source{bucket: bucket, key: key}, nil
}

func newS3SourceWithClient(link string, client S3API) (*s3Source, error) {
	src, err := newS3Source(link)
	if err != nil {
		return nil, err
	}
	if client != nil {
		src.client = client
	}
	return src, nil
}

func (s *s3Source) getClient(ctx context.Context) (S3API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMode("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	s.client = s3.NewFromConfig(cfg)
	return s.client, nil
}

func (s *s3Source) Probe(ctx context.Context) (*utils.RemoteFileInfo, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrTransport, err)
	}
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to stat s3://%s/%s: %v", utils.ErrTransport, s.bucket, s.key, err)
	}
	info := &utils.RemoteFileInfo{
		Size:     -1,
		FileName: path.Base(s.key),
		ETag:     aws.ToString(head.ETag),
	}
	if head.ContentLength != nil {
		info.Size = *head.ContentLength
	}
	// Single part uploads carry the object MD5 as ETag.
	info.MD5Sum = utils.NormalizeChecksum(info.ETag)
	if head.LastModified != nil {
		info.Modified = *head.LastModified
	}
	return info, nil
}

func (s *s3Source) FetchRange(ctx context.Context, seg utils.Segment) (io.ReadCloser, string, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", utils.ErrTransport, err)
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", seg.StartByte, seg.EndByte)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: range %s: %v", utils.ErrTransport, rangeHeader, err)
	}
	if out.ContentRange == nil {
		out.Body.Close()
		return nil, "", fmt.Errorf("%w: range %s: missing Content-Range in response", utils.ErrTransport, rangeHeader)
	}
	return out.Body, "", nil
}

func (s *s3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrTransport, err)
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to download s3://%s/%s: %v", utils.ErrTransport, s.bucket, s.key, err)
	}
	return out.Body, nil
}
