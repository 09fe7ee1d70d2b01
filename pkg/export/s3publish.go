package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Publisher is the optional export.Publisher: it mirrors a finished,
// already-locally-finalized export (manifest + every file it lists) to an
// S3 bucket under a snapshot-scoped prefix.
type S3Publisher struct {
	Client *s3.Client
	Bucket string
	Prefix string // optional key prefix, e.g. "sabt-exports/"
}

// NewS3Publisher builds an S3Publisher around an existing client.
func NewS3Publisher(client *s3.Client, bucket, prefix string) *S3Publisher {
	return &S3Publisher{Client: client, Bucket: bucket, Prefix: prefix}
}

// Publish uploads export_manifest.json and every file manifest.Files lists
// from outputDir to s3://Bucket/Prefix/{manifest.Snapshot.Marker}/.
func (p *S3Publisher) Publish(ctx context.Context, manifest *Manifest, outputDir string) error {
	prefix := fmt.Sprintf("%s%s/", p.Prefix, manifest.Snapshot.Marker)

	if err := p.putFile(ctx, filepath.Join(outputDir, "export_manifest.json"), prefix+"export_manifest.json"); err != nil {
		return fmt.Errorf("export: publish manifest: %w", err)
	}
	for _, f := range manifest.Files {
		if err := p.putFile(ctx, filepath.Join(outputDir, f.Name), prefix+f.Name); err != nil {
			return fmt.Errorf("export: publish %s: %w", f.Name, err)
		}
	}
	return nil
}

func (p *S3Publisher) putFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}
