package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// Upload writes content to remotePath over SFTP as the login user. The
// parent directory must already exist.
func (c *SSHClient) Upload(ctx context.Context, content []byte, remotePath string) error {
	startTime := time.Now()

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return transportError("upload", fmt.Errorf("failed to create remote file: %w", err), false)
	}

	written, err := copyWithContext(ctx, remoteFile, bytes.NewReader(content))
	if closeErr := remoteFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return transportError("upload", fmt.Errorf("failed to write %s: %w", remotePath, err), true)
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// Download reads remotePath over SFTP as the login user.
func (c *SSHClient) Download(ctx context.Context, remotePath string) ([]byte, error) {
	startTime := time.Now()

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, transportError("download", fmt.Errorf("failed to open remote file: %w", err), false)
	}
	defer remoteFile.Close()

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, remoteFile); err != nil {
		return nil, transportError("download", fmt.Errorf("failed to read %s: %w", remotePath, err), true)
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("remote", remotePath).
		Int("bytes", buf.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("file downloaded")

	return buf.Bytes(), nil
}

func (c *SSHClient) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, transportError("sftp-init", fmt.Errorf("failed to create SFTP client: %w", err), true)
	}

	return sftpClient, nil
}

// copyWithContext copies src to dst, stopping between chunks once ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
