package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trancheworks/cascade/internal/domain"
)

// Archiver implements domain.LedgerArchiver by serializing a completed
// period's ledgers to JSONL and uploading the result to S3 at
// ledgers/<deal>/<period>.jsonl. The primary store keeps its copy; the
// archive is a secondary audit artifact.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver creates an Archiver uploading to the client's bucket.
func NewArchiver(c *Client) *Archiver {
	return &Archiver{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// ArchivePeriod uploads the period's ledger records, one JSON document
// per line, revenue cascade before principal. It returns the object key.
func (a *Archiver) ArchivePeriod(ctx context.Context, res domain.PeriodResult) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, run := range []*domain.RunResult{res.Revenue, res.Principal} {
		if run == nil {
			continue
		}
		for _, rec := range run.Records {
			row := struct {
				RunID   string         `json:"run_id"`
				Cascade domain.Cascade `json:"cascade"`
				domain.Record
			}{RunID: run.RunID, Cascade: run.Cascade, Record: rec}
			if err := enc.Encode(row); err != nil {
				return "", fmt.Errorf("s3blob: encode ledger row %s/%d: %w", run.RunID, rec.Seq, err)
			}
		}
	}

	key := fmt.Sprintf("ledgers/%s/%06d.jsonl", res.DealID, res.Period)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive period %s/%d: %w", res.DealID, res.Period, err)
	}
	return key, nil
}

// Compile-time interface check.
var _ domain.LedgerArchiver = (*Archiver)(nil)
