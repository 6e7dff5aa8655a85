package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
)

// createSFTPClient creates a new SFTP client.
func (c *SSHClient) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	return sftpClient, nil
}

// UploadFile uploads a single file to the remote host. The SHA-256 of the
// bytes sent is compared to the checksum computed on the host.
func (c *SSHClient) UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) (*FileTransferResult, error) {
	startTime := time.Now()

	c.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("Uploading file")

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer localFile.Close()

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}

	hash := sha256.New()
	written, err := copyWithContext(ctx, remoteFile, io.TeeReader(localFile, hash))
	if closeErr := remoteFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: ctx.Err() == nil,
		}
	}

	if mode > 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			c.logger.Warn().Err(err).Str("remote", remotePath).Msg("Failed to set file permissions")
		}
	}

	localSum := hex.EncodeToString(hash.Sum(nil))
	remoteSum, err := c.ComputeChecksum(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(localSum, remoteSum) {
		return nil, &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("checksum mismatch for %s: local %s, remote %s", remotePath, localSum, remoteSum),
		}
	}

	result := &FileTransferResult{
		BytesTransferred: written,
		Duration:         time.Since(startTime),
		Checksum:         localSum,
	}

	c.logger.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", result.Duration).
		Msg("File uploaded")

	return result, nil
}

// ComputeChecksum calculates the SHA-256 checksum of a remote file with
// sha256sum.
func (c *SSHClient) ComputeChecksum(ctx context.Context, remotePath string) (string, error) {
	res, err := c.Run(ctx, "sha256sum "+ShellQuote(remotePath))
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return "", &TransportError{
			Op:  "checksum",
			Err: fmt.Errorf("failed to compute checksum: %w: %s", err, stderr),
		}
	}

	// Output format: "checksum  filename"
	fields := strings.Fields(res.Stdout)
	if len(fields) < 1 {
		return "", &TransportError{
			Op:  "checksum",
			Err: fmt.Errorf("invalid checksum output: %q", res.Stdout),
		}
	}

	return fields[0], nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
