// Package ocr wraps asynchronous text detection for scanned documents.
// Submission returns a job reference; completion arrives later as a queue
// message carrying the job reference and terminal status.
package ocr

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// Job statuses reported by the OCR backend.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusSucceeded  = "SUCCEEDED"
	StatusFailed     = "FAILED"
)

// Result is the outcome of a finished text-detection job.
type Result struct {
	Status        string
	StatusMessage string
	Lines         []string
}

// Client starts text-detection jobs and fetches their results.
type Client interface {
	SubmitTextDetection(ctx context.Context, bucket, key string) (string, error)
	GetTextDetectionResult(ctx context.Context, jobRef string) (Result, error)
}

type textractClient struct {
	api *textract.Client
}

// NewTextract builds the production OCR client.
func NewTextract(ctx context.Context, region string) (Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &textractClient{api: textract.NewFromConfig(awsCfg)}, nil
}

func (c *textractClient) SubmitTextDetection(ctx context.Context, bucket, key string) (string, error) {
	out, err := c.api.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("start text detection: %w", err)
	}
	return aws.ToString(out.JobId), nil
}

func (c *textractClient) GetTextDetectionResult(ctx context.Context, jobRef string) (Result, error) {
	var res Result
	var nextToken *string
	for {
		out, err := c.api.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
			JobId:     aws.String(jobRef),
			NextToken: nextToken,
		})
		if err != nil {
			return Result{}, fmt.Errorf("get text detection: %w", err)
		}
		res.Status = string(out.JobStatus)
		res.StatusMessage = aws.ToString(out.StatusMessage)
		for _, block := range out.Blocks {
			if block.BlockType == types.BlockTypeLine {
				res.Lines = append(res.Lines, aws.ToString(block.Text))
			}
		}
		if out.NextToken == nil {
			return res, nil
		}
		nextToken = out.NextToken
	}
}
