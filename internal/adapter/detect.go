package adapter

import (
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// Model identifiers and resource requirements.
const (
	ModelUITars  = "uitars-7b"
	ModelMiniCPM = "minicpm-v-2.6"

	uitarsMinVRAMGB = 16.0
	minicpmMinRAMGB = 6.0
)

// ErrNoAdapters is returned when no backend is available on this machine.
var ErrNoAdapters = errors.New("no suitable vision model available")

// DetectConfig configures adapter detection.
type DetectConfig struct {
	ModelDir    string
	Python      string
	CloudKey    string
	CloudURL    string
	CloudModel  string
	EnableCloud bool
}

// Detected holds the adapters found for this machine, in fallback order.
type Detected struct {
	Primary Adapter
	Backups []Adapter
	Cloud   Adapter
}

// Detect probes the hardware and model directory and returns the available
// adapters in priority order: GPU model, then CPU model, then cloud API.
// Returns ErrNoAdapters if nothing is usable.
func Detect(config DetectConfig) (*Detected, error) {
	var locals []Adapter

	if vram, ok := gpuVRAMGB(); ok && vram >= uitarsMinVRAMGB {
		path := filepath.Join(config.ModelDir, ModelUITars)
		if _, err := os.Stat(path); err == nil {
			locals = append(locals, NewLocal(LocalConfig{
				Name:        ModelUITars,
				ModelDir:    path,
				Python:      config.Python,
				Tier:        vision.TierGPU,
				RequiresGPU: true,
				MinVRAMGB:   uitarsMinVRAMGB,
			}))
			log.Printf("Found %s (GPU, %.1f GB VRAM)", ModelUITars, vram)
		} else {
			log.Printf("GPU available but %s not found at %s", ModelUITars, path)
		}
	}

	if ram, ok := availableRAMGB(); ok && ram >= minicpmMinRAMGB {
		path := filepath.Join(config.ModelDir, ModelMiniCPM)
		if _, err := os.Stat(path); err == nil {
			locals = append(locals, NewLocal(LocalConfig{
				Name:     ModelMiniCPM,
				ModelDir: path,
				Python:   config.Python,
				Tier:     vision.TierCPU,
				MinRAMGB: minicpmMinRAMGB,
			}))
			log.Printf("Found %s (CPU, %.1f GB RAM available)", ModelMiniCPM, ram)
		}
	}

	d := &Detected{}
	if len(locals) > 0 {
		d.Primary = locals[0]
		d.Backups = locals[1:]
	}

	if config.EnableCloud {
		if config.CloudKey != "" {
			d.Cloud = NewCloud(CloudConfig{
				APIKey:   config.CloudKey,
				Endpoint: config.CloudURL,
				Model:    config.CloudModel,
			})
			log.Printf("Found cloud API adapter: %s", d.Cloud.Descriptor().Name)
		} else {
			log.Printf("Cloud fallback enabled but no API key configured")
		}
	}

	if d.Primary == nil && d.Cloud == nil {
		return nil, ErrNoAdapters
	}

	// No local model but a cloud adapter: promote it to primary.
	if d.Primary == nil {
		d.Primary = d.Cloud
		d.Cloud = nil
	}

	return d, nil
}

// availableRAMGB returns the system's available memory in gigabytes.
func availableRAMGB() (float64, bool) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("RAM check failed: %v", err)
		return 0, false
	}
	return float64(vm.Available) / 1e9, true
}

// gpuVRAMGB queries nvidia-smi for the total VRAM of the first GPU.
func gpuVRAMGB() (float64, bool) {
	out, err := exec.Command(
		"nvidia-smi", "--query-gpu=memory.total", "--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return 0, false
	}

	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	mb, err := strconv.ParseFloat(line, 64)
	if err != nil {
		log.Printf("GPU check: unexpected nvidia-smi output %q", line)
		return 0, false
	}
	return mb / 1024.0, true
}
