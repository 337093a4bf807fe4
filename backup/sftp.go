package backup

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/melbahja/goph"
	"github.com/pkg/sftp"
)

type SFTPConfig struct {
	User string
	Host string
	// 22 if 0
	Port uint
	// path of private key, e.g. ~/.ssh/id_ed25519
	KeyPath       string
	KeyPassphrase string
}

// SFTPConfigFromEnv reads KVSTORE_SFTP_* environment variables.
// Returns ErrNoConfig if KVSTORE_SFTP_HOST is not set.
func SFTPConfigFromEnv() (*SFTPConfig, error) {
	host := os.Getenv("KVSTORE_SFTP_HOST")
	if host == "" {
		return nil, fmt.Errorf("%w: KVSTORE_SFTP_HOST is not set", ErrNoConfig)
	}
	c := &SFTPConfig{
		User:          os.Getenv("KVSTORE_SFTP_USER"),
		Host:          host,
		KeyPath:       os.Getenv("KVSTORE_SFTP_KEY"),
		KeyPassphrase: os.Getenv("KVSTORE_SFTP_KEY_PASSPHRASE"),
	}
	if s := os.Getenv("KVSTORE_SFTP_PORT"); s != "" {
		port, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid KVSTORE_SFTP_PORT '%s': %w", s, err)
		}
		c.Port = uint(port)
	}
	return c, nil
}

func (c *SFTPConfig) validate() error {
	if c == nil {
		return ErrNoConfig
	}
	if c.User == "" || c.Host == "" || c.KeyPath == "" {
		return fmt.Errorf("%w: sftp needs user, host and key", ErrNoConfig)
	}
	return nil
}

type SFTPClient struct {
	ssh  *goph.Client
	sftp *sftp.Client
}

// NewSFTP connects over ssh, verifying the host against ~/.ssh/known_hosts
func NewSFTP(config *SFTPConfig) (*SFTPClient, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	auth, err := goph.Key(config.KeyPath, config.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("goph.Key('%s') failed: %w", config.KeyPath, err)
	}
	callback, err := goph.DefaultKnownHosts()
	if err != nil {
		return nil, err
	}
	port := config.Port
	if port == 0 {
		port = 22
	}
	client, err := goph.NewConn(&goph.Config{
		User:     config.User,
		Addr:     config.Host,
		Port:     port,
		Auth:     auth,
		Timeout:  20 * time.Second,
		Callback: callback,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh connect to '%s' failed: %w", config.Host, err)
	}
	sc, err := client.NewSftp()
	if err != nil {
		client.Close()
		return nil, err
	}
	return &SFTPClient{
		ssh:  client,
		sftp: sc,
	}, nil
}

// Upload writes snapshot to remotePath.tmp and renames it to remotePath
func (c *SFTPClient) Upload(remotePath string, snap Snapshot) error {
	d, err := compressSnapshot(snap, remotePath)
	if err != nil {
		return err
	}
	if err = c.sftp.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("sftp.MkdirAll('%s') failed: %w", path.Dir(remotePath), err)
	}
	tmpPath := remotePath + ".tmp"
	f, err := c.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("sftp.Create('%s') failed: %w", tmpPath, err)
	}
	_, err = f.Write(d)
	errClose := f.Close()
	if err == nil {
		err = errClose
	}
	if err != nil {
		_ = c.sftp.Remove(tmpPath)
		return fmt.Errorf("sftp write of '%s' failed: %w", tmpPath, err)
	}
	if err = c.sftp.PosixRename(tmpPath, remotePath); err != nil {
		// server without posix-rename@openssh.com
		_ = c.sftp.Remove(remotePath)
		err = c.sftp.Rename(tmpPath, remotePath)
	}
	if err != nil {
		_ = c.sftp.Remove(tmpPath)
		return fmt.Errorf("sftp rename to '%s' failed: %w", remotePath, err)
	}
	return nil
}

func (c *SFTPClient) Close() error {
	err := c.sftp.Close()
	if err2 := c.ssh.Close(); err == nil {
		err = err2
	}
	return err
}
