package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/shipment-monitor/internal/config"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// LastRunKey is where the poller publishes its last poll time, so the
// API process can surface it on the health endpoint.
const LastRunKey = "importer:last_run"

// S3API is the slice of the S3 client the poller uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Poller watches a drop bucket for batch CSV files. Processed files
// move under processed/, files that fail structural validation move
// under failed/, so a file is never imported twice.
type S3Poller struct {
	client   S3API
	importer *Importer
	redis    *redis.Client
	bucket   string
	prefix   string
	interval time.Duration
	lastRun  time.Time
}

// NewS3Poller creates a drop-bucket poller from config, loading AWS
// credentials from the default chain. redisClient may be nil; when set,
// each poll publishes its timestamp under LastRunKey.
func NewS3Poller(ctx context.Context, importer *Importer, cfg config.ImporterConfig, redisClient *redis.Client) (*S3Poller, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for importer: %w", err)
	}
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &S3Poller{
		client:   s3.NewFromConfig(awsCfg),
		importer: importer,
		redis:    redisClient,
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		interval: interval,
	}, nil
}

// Run polls until the context is canceled.
func (p *S3Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger.Info("importer poller started",
		"bucket", p.bucket,
		"prefix", p.prefix,
		"interval", p.interval.String())

	for {
		if err := p.Poll(ctx); err != nil {
			logger.Error("importer poll failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll imports every pending CSV in the drop prefix once.
func (p *S3Poller) Poll(ctx context.Context) error {
	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(p.prefix),
	})
	if err != nil {
		return fmt.Errorf("list drop bucket: %w", err)
	}
	p.lastRun = time.Now().UTC()
	if p.redis != nil {
		if err := p.redis.Set(ctx, LastRunKey, p.lastRun.Format(time.RFC3339), 48*time.Hour).Err(); err != nil {
			logger.Warn("failed to publish importer heartbeat", "error", err.Error())
		}
	}

	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if !strings.HasSuffix(strings.ToLower(key), ".csv") {
			continue
		}
		if strings.Contains(key, "processed/") || strings.Contains(key, "failed/") {
			continue
		}
		p.processObject(ctx, key)
	}
	return nil
}

// LastRun reports when the poller last listed the bucket, for health
// reporting. Zero when it has not run yet.
func (p *S3Poller) LastRun() time.Time { return p.lastRun }

func (p *S3Poller) processObject(ctx context.Context, key string) {
	resp, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.Error("failed to fetch batch file", "key", key, "error", err.Error())
		return
	}
	defer resp.Body.Close()

	summary, err := p.importer.ImportCSV(ctx, resp.Body)
	if err != nil {
		logger.Error("batch file rejected",
			"key", key,
			"error", err.Error())
		p.move(ctx, key, "failed/")
		return
	}

	logger.Info("batch file imported",
		"key", key,
		"rows", summary.Rows,
		"created", summary.Created,
		"duplicates", summary.Duplicates,
		"rejected", summary.Rejected)
	p.move(ctx, key, "processed/")
}

// move relocates an object under the given prefix, keeping its name.
func (p *S3Poller) move(ctx context.Context, key, destPrefix string) {
	name := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		name = key[i+1:]
	}
	dest := p.prefix + destPrefix + time.Now().UTC().Format("2006-01-02") + "_" + name

	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		CopySource: aws.String(p.bucket + "/" + key),
		Key:        aws.String(dest),
	})
	if err != nil {
		logger.Error("failed to archive batch file", "key", key, "error", err.Error())
		return
	}
	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.Error("failed to remove batch file after archive", "key", key, "error", err.Error())
	}
}
