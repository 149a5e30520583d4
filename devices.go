package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceRecord remembers a serial device that was opened successfully.
type DeviceRecord struct {
	Path       string    `yaml:"path"`
	BaudRate   int       `yaml:"baud_rate"`
	LastOpened time.Time `yaml:"last_opened"`
}

// stateDir overrides the default state directory for testing.
// When empty, the user's home directory is used.
var stateDir string

func devicesPath() (string, error) {
	if stateDir != "" {
		return filepath.Join(stateDir, "devices.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ambiled", "devices.yaml"), nil
}

func readDeviceRecords(path string) ([]DeviceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []DeviceRecord
	if err := yaml.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func writeDeviceRecords(path string, recs []DeviceRecord) error {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].LastOpened.After(recs[j].LastOpened)
	})
	data, err := yaml.Marshal(recs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LastDevice returns the most recently opened device.
// Returns false with no error if nothing has been remembered yet.
func LastDevice() (DeviceRecord, bool, error) {
	path, err := devicesPath()
	if err != nil {
		return DeviceRecord{}, false, err
	}
	recs, err := readDeviceRecords(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DeviceRecord{}, false, nil
		}
		return DeviceRecord{}, false, err
	}
	var best DeviceRecord
	for _, r := range recs {
		if r.LastOpened.After(best.LastOpened) || best.Path == "" {
			best = r
		}
	}
	return best, best.Path != "", nil
}

// RememberDevice stores rec, replacing any record with the same path.
// Creates the state directory with 0700 if needed.
func RememberDevice(rec DeviceRecord) error {
	path, err := devicesPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	recs, err := readDeviceRecords(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	kept := recs[:0]
	for _, r := range recs {
		if r.Path != rec.Path {
			kept = append(kept, r)
		}
	}
	return writeDeviceRecords(path, append(kept, rec))
}

// ForgetDevice removes the record for devicePath.
func ForgetDevice(devicePath string) error {
	path, err := devicesPath()
	if err != nil {
		return err
	}
	recs, err := readDeviceRecords(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	kept := recs[:0]
	for _, r := range recs {
		if r.Path != devicePath {
			kept = append(kept, r)
		}
	}
	return writeDeviceRecords(path, kept)
}
