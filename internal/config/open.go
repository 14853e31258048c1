package config

import (
	"context"
	"log/slog"

	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/blobstore"
	"github.com/shaiso/Netomata/internal/blobstore/azblob"
	"github.com/shaiso/Netomata/internal/blobstore/s3"
	"github.com/shaiso/Netomata/internal/cache"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/runner"
	"github.com/shaiso/Netomata/internal/sshdriver"
)

// OpenCache создаёт распределённый кэш выбранного бэкенда.
func (c *Config) OpenCache() (cache.Cache, error) {
	if c.CacheBackend == CacheConsul {
		return cache.NewConsul(c.ConsulAddr, c.ConsulPrefix)
	}
	return cache.NewMemory(nil), nil
}

// OpenBlobStore создаёт внешнее хранилище бэкапов. BlobNone — nil:
// всё содержимое хранится в БД.
func (c *Config) OpenBlobStore(ctx context.Context) (blobstore.Store, error) {
	switch c.BlobBackend {
	case BlobS3:
		opts := s3.Options{
			Bucket:         c.S3Bucket,
			Region:         c.S3Region,
			Endpoint:       c.S3Endpoint,
			ForcePathStyle: c.S3Endpoint != "",
		}
		if c.S3AccessKey != "" {
			opts.StaticCredentials = &s3.StaticCredentials{Key: c.S3AccessKey, Secret: c.S3SecretKey}
		}
		return s3.New(ctx, opts)
	case BlobAzure:
		return azblob.New(azblob.Options{
			ConnectionString: c.AzureConnectionString,
			Container:        c.AzureContainer,
		})
	default:
		return nil, nil
	}
}

// OTP возвращает конфигурацию OTP-координатора.
func (c *Config) OTP(logger *slog.Logger) otp.Config {
	return otp.Config{
		CodeTTL:     c.OTPCodeTTL,
		WaitTimeout: c.OTPWaitTimeout,
		LockTTL:     c.OTPLockTTL,
		PauseTTL:    c.OTPPauseTTL,
		Logger:      logger,
	}
}

// Runner возвращает конфигурацию Runner'а.
func (c *Config) Runner(waiter runner.Waiter, logger *slog.Logger) runner.Config {
	return runner.Config{
		Concurrency:    c.RunnerConcurrency,
		Retries:        c.RunnerRetries,
		RetryDelay:     c.RunnerRetryDelay,
		OTPWaitTimeout: c.OTPWaitTimeout,
		Waiter:         waiter,
		Logger:         logger,
	}
}

// SSH возвращает конфигурацию SSH драйвера.
func (c *Config) SSH(logger *slog.Logger) sshdriver.Config {
	return sshdriver.Config{
		ConnectTimeout: c.SSHConnectTimeout,
		CommandTimeout: c.SSHCommandTimeout,
		KnownHostsFile: c.SSHKnownHosts,
		Logger:         logger,
	}
}

// Backup возвращает конфигурацию движка бэкапов.
func (c *Config) Backup(blobs blobstore.Store, logger *slog.Logger) backup.Config {
	return backup.Config{
		InlineThreshold: c.BackupInlineThreshold,
		Keep:            c.BackupKeepByType,
		DefaultKeep:     c.BackupKeep,
		Retention:       c.BackupRetention,
		Blobs:           blobs,
		Logger:          logger,
	}
}
