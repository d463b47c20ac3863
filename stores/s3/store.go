// Package s3 implements a Store backed by an AWS S3 (or S3-compatible) bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/common"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of an s3:// store URL.
type StoreQueryArgs struct {
	// AWS Profile to extract credentials from the shared credentials file.
	// If empty, the default credentials are used.
	Profile string `schema:"profile"`
	// Endpoint to connect to S3. If empty, the default S3 service is used.
	Endpoint string `schema:"endpoint"`
	// ACL applied when persisting objects. By default no ACL is set.
	ACL string `schema:"acl"`
	// SSE is the server-side encryption type to be applied (eg, "AES256").
	// By default, encryption is not used.
	SSE string `schema:"sse"`
	// SSEKMSKeyId specifies the ID for the AWS KMS symmetric customer managed key.
	SSEKMSKeyId string `schema:"sseKMSKeyId"`
	// Region is the region for the bucket. If empty, the region is determined
	// from `Profile` or the default credentials.
	Region string `schema:"region"`
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *s3.S3
}

// New creates a new S3 Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	// Omit leading slash from bucket prefix. Endpoint already
	// enforces that URL Paths end in '/'.
	var bucket, prefix = ep.Host, strings.TrimPrefix(ep.Path, "/")

	var awsConfig = aws.NewConfig()
	awsConfig.WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		awsConfig.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		awsConfig.WithEndpoint(args.Endpoint)
		// We must force path style because bucket-named virtual hosts
		// are not compatible with explicit endpoints.
		awsConfig.WithS3ForcePathStyle(true)
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:  *awsConfig,
		Profile: args.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing S3 session: %s", err)
	}

	creds, err := awsSession.Config.Credentials.Get()
	if err != nil {
		return nil, fmt.Errorf("fetching AWS credentials for profile %q: %s", args.Profile, err)
	}

	// The aws sdk will always just return an error if this Region is not set, even if
	// the Endpoint was provided explicitly. It's important to fail-fast in this case.
	if awsSession.Config.Region == nil || *awsSession.Config.Region == "" {
		return nil, fmt.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"endpoint":     args.Endpoint,
		"profile":      args.Profile,
		"region":       *awsSession.Config.Region,
		"keyID":        creds.AccessKeyID,
		"providerName": creds.ProviderName,
	}).Info("constructed new aws.Session")

	return &store{
		bucket: bucket,
		prefix: prefix,
		args:   args,
		client: s3.New(awsSession),
	}, nil
}

func (s *store) Provider() string { return "s3" }

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var headObj = s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(common.JoinPath(s.prefix, path)),
	}
	if _, err := s.client.HeadObjectWithContext(ctx, &headObj); err == nil {
		return true, nil
	} else if awsErr, ok := err.(awserr.RequestFailure); ok && awsErr.StatusCode() == http.StatusNotFound {
		return false, nil
	} else {
		return false, markExpired(err)
	}
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var getObj = s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(common.JoinPath(s.prefix, path)),
	}
	var resp, err = s.client.GetObjectWithContext(ctx, &getObj)
	if err != nil {
		return nil, markExpired(err)
	}
	return resp.Body, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	// S3 SDK requires io.ReadSeeker, so we use io.NewSectionReader to adapt io.ReaderAt
	var putObj = s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(common.JoinPath(s.prefix, path)),
		Body:   io.NewSectionReader(content, 0, contentLength),
	}

	if s.args.ACL != "" {
		putObj.ACL = aws.String(s.args.ACL)
	}
	if s.args.SSE != "" {
		putObj.ServerSideEncryption = aws.String(s.args.SSE)
	}
	if s.args.SSEKMSKeyId != "" {
		putObj.SSEKMSKeyId = aws.String(s.args.SSEKMSKeyId)
	}
	if contentType != "" {
		putObj.ContentType = aws.String(contentType)
	}

	var _, err = s.client.PutObjectWithContext(ctx, &putObj)
	return markExpired(err)
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = common.JoinPath(s.prefix, prefix)
	var q = s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	var listErr error
	var err = s.client.ListObjectsV2PagesWithContext(ctx, &q, func(objs *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range objs.Contents {
			if strings.HasSuffix(*obj.Key, "/") {
				continue // Ignore directory-like objects
			}
			if err := callback(strings.TrimPrefix(*obj.Key, prefix), *obj.LastModified); err != nil {
				listErr = err
				return false // Stop pagination
			}
		}
		return true
	})
	if listErr != nil {
		return listErr
	}
	return markExpired(err)
}

func (s *store) Remove(ctx context.Context, path string) error {
	var deleteObj = s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(common.JoinPath(s.prefix, path)),
	}
	var _, err = s.client.DeleteObjectWithContext(ctx, &deleteObj)
	return markExpired(err)
}

func (s *store) IsAuthError(err error) bool {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchBucket, s3ErrCodeAccessDenied:
			return true
		}
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusForbidden {
		return true
	}
	return false
}

// markExpired joins stores.ErrAuthExpired to |err| if it's a rejection of
// expired session credentials. The session re-fetches credentials on the
// next request, so a single retry may succeed.
func markExpired(err error) error {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return err
	}
	switch awsErr.Code() {
	case s3ErrCodeExpiredToken, s3ErrCodeRequestExpired:
		return errors.Join(stores.ErrAuthExpired, err)
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusUnauthorized {
		return errors.Join(stores.ErrAuthExpired, err)
	}
	return err
}

const (
	// AWS S3 error codes not defined as constants in the SDK
	s3ErrCodeAccessDenied   = "AccessDenied"
	s3ErrCodeExpiredToken   = "ExpiredToken"
	s3ErrCodeRequestExpired = "RequestExpired"
)
