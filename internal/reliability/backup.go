// Package reliability provides off-box backup and routine database
// maintenance for the embedded store. Neither is named by spec.md; both are
// additive infrastructure that gives the teacher's backup/maintenance
// libraries a genuine, exercised home rather than being dropped (see
// DESIGN.md).
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupConfig configures the S3-compatible bucket a BackupService uploads
// to. Bundled here rather than read from internal/config so the reliability
// package stays independent of the main config struct's shape.
type BackupConfig struct {
	Bucket          string
	Endpoint        string // empty for AWS S3; set for R2/MinIO-style endpoints
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

func (c BackupConfig) configured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// BackupService archives the store file and uploads it to an S3-compatible
// bucket, grounded on the teacher's internal/reliability/r2_backup_service.go
// (tar+gzip+sha256 staging, timestamped archive name, metadata JSON),
// collapsed from the teacher's per-database backup loop (it backs up seven
// separate SQLite files) to TickerPulse's single store file.
type BackupService struct {
	cfg      BackupConfig
	storeDir string
	dbPath   string
	uploader *manager.Uploader
	client   *s3.Client
	log      zerolog.Logger
}

// BackupMetadata describes one archive's contents, written alongside the
// database file inside the tarball.
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	DBFile    string    `json:"db_file"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// NewBackupService builds an S3 client from cfg. A zero-value cfg (no
// bucket/credentials configured) yields a service whose Run is a no-op,
// matching the spec's general "missing external credential" degradation.
func NewBackupService(cfg BackupConfig, dbPath string, log zerolog.Logger) (*BackupService, error) {
	log = log.With().Str("component", "backup").Logger()
	if !cfg.configured() {
		return &BackupService{cfg: cfg, dbPath: dbPath, storeDir: filepath.Dir(dbPath), log: log}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("reliability: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &BackupService{
		cfg:      cfg,
		dbPath:   dbPath,
		storeDir: filepath.Dir(dbPath),
		client:   client,
		uploader: manager.NewUploader(client),
		log:      log,
	}, nil
}

// Run stages a tar.gz archive of the store file plus a metadata.json
// sidecar, then uploads it to the configured bucket. Returns nil without
// doing anything if no bucket is configured.
func (s *BackupService) Run(ctx context.Context) error {
	if !s.cfg.configured() {
		s.log.Debug().Msg("backup skipped, no bucket configured")
		return nil
	}
	start := time.Now()

	stagingDir, err := os.MkdirTemp(s.storeDir, "backup-staging-*")
	if err != nil {
		return fmt.Errorf("reliability: create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbCopyPath := filepath.Join(stagingDir, "tickerpulse.db")
	if err := copyFile(s.dbPath, dbCopyPath); err != nil {
		return fmt.Errorf("reliability: copy store file: %w", err)
	}

	info, err := os.Stat(dbCopyPath)
	if err != nil {
		return fmt.Errorf("reliability: stat staged copy: %w", err)
	}
	checksum, err := sha256Of(dbCopyPath)
	if err != nil {
		return fmt.Errorf("reliability: checksum: %w", err)
	}

	meta := BackupMetadata{Timestamp: start.UTC(), DBFile: "tickerpulse.db", SizeBytes: info.Size(), Checksum: checksum}
	metaPath := filepath.Join(stagingDir, "metadata.json")
	if err := writeJSONFile(metaPath, meta); err != nil {
		return fmt.Errorf("reliability: write metadata: %w", err)
	}

	archiveName := fmt.Sprintf("tickerpulse-backup-%s.tar.gz", start.Format("2006-01-02-150405"))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, map[string]string{
		"tickerpulse.db": dbCopyPath,
		"metadata.json":  metaPath,
	}); err != nil {
		return fmt.Errorf("reliability: create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("reliability: open archive: %w", err)
	}
	defer archive.Close()

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(archiveName),
		Body:   archive,
	}); err != nil {
		return fmt.Errorf("reliability: upload to bucket: %w", err)
	}

	s.log.Info().Str("archive", archiveName).Int64("size_bytes", info.Size()).
		Dur("duration_ms", time.Since(start)).Msg("backup uploaded")
	return nil
}

// BackupInfo describes one archive listed in the bucket.
type BackupInfo struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
}

// ListBackups lists archives previously uploaded by Run, grounded on the
// teacher's R2BackupService.ListBackups timestamp-from-filename parsing.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if s.client == nil {
		return nil, nil
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String("tickerpulse-backup-"),
	})
	if err != nil {
		return nil, fmt.Errorf("reliability: list bucket: %w", err)
	}

	backups := make([]BackupInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, "tickerpulse-backup-"), ".tar.gz")
		ts, err := time.Parse("2006-01-02-150405", name)
		if err != nil {
			continue
		}
		size := int64(0)
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{Key: *obj.Key, Timestamp: ts, SizeBytes: size})
	}
	return backups, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func sha256Of(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSONFile(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createArchive(archivePath string, files map[string]string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for name, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: info.Size()}
		if err := tw.WriteHeader(hdr); err != nil {
			f.Close()
			return err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return nil
}
