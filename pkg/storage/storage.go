// Package storage serves conversation recordings either straight from the
// voice vendor or from a local disk cache filled on first access.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// AudioSource fetches a recording from the vendor.
type AudioSource interface {
	ConversationAudio(ctx context.Context, conversationID string) ([]byte, string, error)
}

type Driver interface {
	Audio(ctx context.Context, conversationID string) ([]byte, string, error)
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func checkID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid conversation id %q", id)
	}
	return nil
}

// VendorProxyDriver streams every request from the vendor.
type VendorProxyDriver struct {
	source AudioSource
}

func NewVendorProxyDriver(source AudioSource) *VendorProxyDriver {
	return &VendorProxyDriver{source: source}
}

func (d *VendorProxyDriver) Audio(ctx context.Context, conversationID string) ([]byte, string, error) {
	if err := checkID(conversationID); err != nil {
		return nil, "", err
	}
	return d.source.ConversationAudio(ctx, conversationID)
}

// LocalDriver caches recordings under basePath.
type LocalDriver struct {
	basePath string
	source   AudioSource
}

func NewLocalDriver(basePath string, source AudioSource) *LocalDriver {
	if basePath == "" {
		basePath = "/data/audio"
	}
	return &LocalDriver{basePath: basePath, source: source}
}

func (d *LocalDriver) Audio(ctx context.Context, conversationID string) ([]byte, string, error) {
	if err := checkID(conversationID); err != nil {
		return nil, "", err
	}
	path := filepath.Join(d.basePath, conversationID+".mp3")

	if data, err := os.ReadFile(path); err == nil {
		return data, "audio/mpeg", nil
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read cached recording: %w", err)
	}

	data, contentType, err := d.source.ConversationAudio(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	if err := d.write(path, data); err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return data, contentType, nil
}

func (d *LocalDriver) write(path string, data []byte) error {
	if err := os.MkdirAll(d.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	tmp, err := os.CreateTemp(d.basePath, ".rec-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func NewDriver(driverType string, source AudioSource, localPath string) (Driver, error) {
	switch strings.ToLower(driverType) {
	case "vendor-proxy", "proxy", "":
		return NewVendorProxyDriver(source), nil
	case "local":
		return NewLocalDriver(localPath, source), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driverType)
	}
}
