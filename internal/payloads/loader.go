// Package payloads reads webhook payload files from disk.
package payloads

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/telhawk-systems/inbox/internal/model"
)

// Ext is the payload file extension.
const Ext = ".json"

// IsPayloadFile reports whether name looks like a payload file.
func IsPayloadFile(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), Ext) && !strings.HasPrefix(base, ".")
}

// LoadDir reads every payload file in dir, in lexical file-name order.
// Subdirectories are not descended into.
func LoadDir(dir string) ([]model.Envelope, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read payload dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && IsPayloadFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	envs := make([]model.Envelope, 0, len(names))
	for _, name := range names {
		env, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// LoadFile reads one payload file. The envelope id is the file name and the
// receive time is the file's modification time, so reloading an unchanged
// file yields an identical envelope.
func LoadFile(path string) (model.Envelope, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("stat payload %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("read payload %s: %w", path, err)
	}
	return model.Envelope{
		ID:         filepath.Base(path),
		Source:     model.SourceFile,
		Payload:    data,
		ReceivedAt: info.ModTime().UTC(),
	}, nil
}
