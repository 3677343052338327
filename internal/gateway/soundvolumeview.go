package gateway

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	dumpPrefix = "dump_"
	dumpSuffix = ".csv"

	recordTypeDevice = "Device"
	directionRender  = "Render"
	minRecordFields  = 5
)

// DeviceRecord is one row of the SoundVolumeView comma dump.
type DeviceRecord struct {
	Name       string
	Type       string
	Direction  string
	DeviceName string
	Default    string
}

// DisplayName prefers the device-level name over the endpoint name.
func (r DeviceRecord) DisplayName() string {
	if r.DeviceName != "" {
		return r.DeviceName
	}
	return r.Name
}

func (r DeviceRecord) isDefaultRender() bool {
	return r.Type == recordTypeDevice &&
		r.Direction == directionRender &&
		strings.Contains(r.Default, directionRender)
}

// SoundVolumeView scans audio endpoints by making the tool write a comma
// separated dump to a temporary file.
type SoundVolumeView struct {
	logger  *zap.Logger
	runner  Runner
	path    string
	dumpDir string
	timeout time.Duration
}

func NewSoundVolumeView(logger *zap.Logger, runner Runner, path, dumpDir string, timeout time.Duration) *SoundVolumeView {
	return &SoundVolumeView{
		logger:  logger,
		runner:  runner,
		path:    path,
		dumpDir: dumpDir,
		timeout: timeout,
	}
}

// ScanDevices returns the default render device. The bool is false when
// no row qualifies.
func (s *SoundVolumeView) ScanDevices(ctx context.Context) (DeviceRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dump := s.dumpPath()
	defer s.remove(dump)

	if _, err := s.runner.Run(ctx, s.path, "/scomma", dump); err != nil {
		return DeviceRecord{}, false, err
	}

	data, err := os.ReadFile(dump)
	if err != nil {
		return DeviceRecord{}, false, fmt.Errorf("read dump: %w", err)
	}
	s.remove(dump)

	rec, ok := FindDefaultRender(string(data))
	return rec, ok, nil
}

// dumpPath is unique per call so overlapping scans never share a file.
func (s *SoundVolumeView) dumpPath() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := fmt.Sprintf("%s%d_%s%s", dumpPrefix, time.Now().UnixMilli(), suffix, dumpSuffix)
	return filepath.Join(s.dumpDir, name)
}

func (s *SoundVolumeView) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove dump", zap.String("path", path), zap.Error(err))
	}
}

// FindDefaultRender returns the first Device/Render row whose default
// flags include Render. Rows with fewer than five fields are skipped.
func FindDefaultRender(content string) (DeviceRecord, bool) {
	for _, line := range strings.Split(content, "\n") {
		fields, ok := splitRecord(strings.TrimRight(line, "\r"))
		if !ok || len(fields) < minRecordFields {
			continue
		}
		rec := DeviceRecord{
			Name:       fields[0],
			Type:       fields[1],
			Direction:  fields[2],
			DeviceName: fields[3],
			Default:    fields[4],
		}
		if rec.isDefaultRender() {
			return rec, true
		}
	}
	return DeviceRecord{}, false
}

func splitRecord(line string) ([]string, bool) {
	if line == "" {
		return nil, false
	}
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil, false
	}
	return fields, true
}

// CleanStaleDumps removes dump files left behind by a previous run.
func CleanStaleDumps(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dump dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, dumpPrefix) || !strings.HasSuffix(name, dumpSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
