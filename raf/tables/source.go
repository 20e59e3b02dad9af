package tables

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileOpener fetches one reference table by path. There are two
// implementations; one for reading local files, and one for objects in s3.
// Which one serves a given path is decided by its scheme.
type FileOpener interface {
	OpenTable(path string) (io.ReadCloser, error)
}

type LocalFileOpener struct {
	Logger logrus.FieldLogger
}

func (opener *LocalFileOpener) OpenTable(path string) (io.ReadCloser, error) {
	opener.Logger.Infof("Opening reference table %s", path)
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "could not open reference table %s", path)
	}
	return f, nil
}

type S3FileOpener struct {
	Logger        logrus.FieldLogger
	Endpoint      string
	AssumeRoleArn string
	// Download attempts before giving up. Zero means a single try.
	MaxRetries uint64
}

func (opener *S3FileOpener) OpenTable(path string) (io.ReadCloser, error) {
	bucket, key, err := parseS3Uri(path)
	if err != nil {
		return nil, err
	}

	sess, err := opener.createSession()
	if err != nil {
		opener.Logger.Errorf("Failed to create S3 session: %s", err)
		return nil, err
	}

	opener.Logger.Infof("Downloading reference table from bucket %s, key %s", bucket, key)

	downloader := s3manager.NewDownloader(sess)
	buff := &aws.WriteAtBuffer{}

	download := func() error {
		_, err := downloader.Download(buff, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return err
	}
	notify := func(err error, d time.Duration) {
		opener.Logger.Warnf("Failed to download bucket %s, key %s (retrying in %s): %s", bucket, key, d, err)
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opener.MaxRetries)
	if err := backoff.RetryNotify(download, b, notify); err != nil {
		opener.Logger.Errorf("Failed to download bucket %s, key %s: %s", bucket, key, err)
		return nil, errors.Wrapf(err, "could not download reference table s3://%s/%s", bucket, key)
	}

	return io.NopCloser(bytes.NewReader(buff.Bytes())), nil
}

func (opener *S3FileOpener) createSession() (*session.Session, error) {
	sess := session.Must(session.NewSession())

	config := aws.Config{
		Region: aws.String("us-east-1"),
	}

	if opener.Endpoint != "" {
		config.S3ForcePathStyle = aws.Bool(true)
		config.Endpoint = &opener.Endpoint
	}

	if opener.AssumeRoleArn != "" {
		config.Credentials = stscreds.NewCredentials(
			sess,
			opener.AssumeRoleArn,
		)
	}

	return session.NewSessionWithOptions(session.Options{
		Config: config,
	})
}

func parseS3Uri(str string) (bucket string, key string, err error) {
	workingString := strings.TrimPrefix(str, "s3://")
	resultArr := strings.SplitN(workingString, "/", 2)

	if len(resultArr) == 1 {
		return resultArr[0], "", nil
	}

	return resultArr[0], resultArr[1], nil
}

// IsS3Path reports whether the path names an object in s3 rather than a
// local file.
func IsS3Path(path string) bool {
	return strings.HasPrefix(path, "s3://")
}
