// Package store persists extracted candle history. Every symbol is written
// as a parquet file under the processed data directory, and optionally
// mirrored to S3 under hive-style partition keys.
package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "vnflow/config"
	"vnflow/internal/market"
	"vnflow/logger"
)

// Store writes per-symbol candle files. The local write is the source of
// truth; an S3 upload failure is reported but does not undo the local file.
type Store struct {
	processedDir string
	sourceName   string
	compression  string

	s3Client *s3.Client
	bucket   string

	log *logger.Log
}

// New builds a store rooted at the processed data directory. When S3 is
// enabled in config, uploads go to the configured bucket.
func New(cfg *appconfig.Config) (*Store, error) {
	if cfg.DataPaths.Processed == "" {
		return nil, fmt.Errorf("data_paths.processed is required")
	}
	if err := os.MkdirAll(cfg.DataPaths.Processed, 0o755); err != nil {
		return nil, fmt.Errorf("create processed dir: %w", err)
	}

	st := &Store{
		processedDir: cfg.DataPaths.Processed,
		sourceName:   cfg.Source.BaseURL,
		compression:  cfg.Storage.S3.Compression,
		log:          logger.GetLogger(),
	}

	if cfg.Storage.S3.Enabled {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
		if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Storage.S3.AccessKeyID,
					cfg.Storage.S3.SecretAccessKey,
					"",
				),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		st.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
			}
			o.UsePathStyle = cfg.Storage.S3.PathStyle
		})
		st.bucket = cfg.Storage.S3.Bucket
	}

	return st, nil
}

// SaveSymbol persists a symbol's candles. The local file is written
// atomically via a temp file rename so a crash never leaves a partial
// parquet in the processed directory.
func (s *Store) SaveSymbol(ctx context.Context, symbol string, exchange market.Exchange, candles []market.Candle) (string, error) {
	symbol = strings.ToUpper(symbol)
	data, err := encodeParquet(symbol, s.sourceName, s.compression, candles)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", symbol, err)
	}

	localPath := filepath.Join(s.processedDir, symbol+".parquet")
	if err := writeFileAtomic(localPath, data); err != nil {
		return "", fmt.Errorf("write %s: %w", symbol, err)
	}

	entryLog := s.log.WithComponent("store").WithFields(logger.Fields{
		"symbol":       symbol,
		"record_count": len(candles),
		"file_size":    len(data),
	})
	entryLog.Debug("symbol candles written")

	if s.s3Client != nil {
		key := s.s3Key(symbol, exchange, candles)
		if err := s.upload(ctx, key, data); err != nil {
			entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload candles to s3")
			return localPath, fmt.Errorf("upload %s: %w", symbol, err)
		}
		entryLog.WithFields(logger.Fields{"s3_key": key}).Info("symbol candles uploaded")
	}

	return localPath, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) s3Key(symbol string, exchange market.Exchange, candles []market.Candle) string {
	datePart := time.Now().UTC().Format("2006-01-02")
	if len(candles) > 0 {
		datePart = candles[len(candles)-1].Time.UTC().Format("2006-01-02")
	}
	filename := fmt.Sprintf("%s_%s.parquet",
		symbol,
		time.Now().UTC().Format("20060102150405")+uuid.NewString(),
	)
	key := filepath.Join(
		fmt.Sprintf("exchange=%s", strings.ToLower(string(exchange))),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%s", datePart),
		filename,
	)
	return filepath.ToSlash(key)
}

func (s *Store) upload(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  s.compression,
		},
	}
	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := s.s3Client.PutObject(uploadCtx, input); err != nil {
		return err
	}
	return nil
}
