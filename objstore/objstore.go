// Package objstore stores campaign artifacts in S3: execution-graph JSON
// under workflows/<organization_id>/<campaign_id>.json and uploaded lead-list
// CSVs under lead-lists/<organization_id>/<lead_list_id>/<filename>.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("objstore: object not found")

type (
	// API is the subset of the S3 client the store uses. Narrowed for tests.
	API interface {
		GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
		PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	}

	// Options configures a Store.
	Options struct {
		// Bucket holding all campaign artifacts.
		Bucket string

		// Region for the AWS config. Ignored when Client is set.
		Region string

		// Profile selects a shared-config profile. Ignored when Client is set.
		Profile string

		// Client overrides the constructed S3 client, useful for tests.
		Client API
	}

	// Store reads and writes campaign artifacts.
	Store struct {
		client API
		bucket string
	}
)

// New builds a Store, constructing an S3 client from the ambient AWS config
// unless Options.Client is set.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("objstore: bucket is required")
	}
	client := opts.Client
	if client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
		}
		if opts.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("objstore: loading AWS config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	}
	return &Store{client: client, bucket: opts.Bucket}, nil
}

// WorkflowKey returns the object key for a campaign's execution graph.
func WorkflowKey(organizationID, campaignID string) string {
	return fmt.Sprintf("workflows/%s/%s.json", organizationID, campaignID)
}

// LeadListKey returns the object key for an uploaded lead-list file.
func LeadListKey(organizationID, leadListID, filename string) string {
	return fmt.Sprintf("lead-lists/%s/%s/%s", organizationID, leadListID, filename)
}

// PutWorkflow stores the execution-graph JSON for a campaign.
func (s *Store) PutWorkflow(ctx context.Context, organizationID, campaignID string, def []byte) error {
	key := WorkflowKey(organizationID, campaignID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(def),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("objstore: put %s: %w", key, err)
	}
	return nil
}

// GetWorkflow loads the execution-graph JSON for a campaign.
func (s *Store) GetWorkflow(ctx context.Context, organizationID, campaignID string) ([]byte, error) {
	return s.get(ctx, WorkflowKey(organizationID, campaignID))
}

// PutLeadList stores an uploaded lead-list file verbatim.
func (s *Store) PutLeadList(ctx context.Context, organizationID, leadListID, filename string, r io.Reader) error {
	key := LeadListKey(organizationID, leadListID, filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("objstore: put %s: %w", key, err)
	}
	return nil
}

// GetLeadList streams an uploaded lead-list file. The caller closes the
// returned reader.
func (s *Store) GetLeadList(ctx context.Context, organizationID, leadListID, filename string) (io.ReadCloser, error) {
	key := LeadListKey(organizationID, leadListID, filename)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapGetError(key, err)
	}
	return out.Body, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapGetError(key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objstore: read %s: %w", key, err)
	}
	return data, nil
}

func mapGetError(key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("objstore: %s: %w", key, ErrNotFound)
		}
	}
	return fmt.Errorf("objstore: get %s: %w", key, err)
}
