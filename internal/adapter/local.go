package adapter

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// LocalConfig configures a local model adapter.
type LocalConfig struct {
	// Name is the model identifier, e.g. "uitars-7b" or "minicpm-v-2.6".
	Name string
	// ModelDir is the directory containing the model files.
	ModelDir string
	// Script is the path to the inference service script. Empty means search
	// the standard locations.
	Script string
	// Python is the interpreter to run the service with. Empty means search
	// for a venv interpreter, then fall back to python3.
	Python string
	// Tier the adapter reports on success (TierGPU or TierCPU).
	Tier vision.Tier
	// Resource requirements reported via Descriptor.
	RequiresGPU bool
	MinVRAMGB   float64
	MinRAMGB    float64
}

// Local runs a vision model in a Python inference service subprocess.
// Screenshots are sent as length-prefixed image bytes on stdin; the service
// replies with one JSON line per request.
type Local struct {
	config LocalConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	loaded bool
	// poisoned marks a service whose last request was abandoned on timeout
	// or cancellation. Its pending reply would desynchronize the
	// length-prefixed protocol, so the process must be replaced before the
	// next request.
	poisoned bool
}

// NewLocal creates a local model adapter. The service process is started by
// Load, not here.
func NewLocal(config LocalConfig) *Local {
	return &Local{config: config}
}

// Load starts the inference service subprocess and waits for it to signal
// readiness with a single "ready" line.
func (l *Local) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *Local) load() error {
	if l.loaded {
		return nil
	}

	script := l.config.Script
	if script == "" {
		script = findServiceScript(l.config.Name)
	}
	if script == "" {
		return fmt.Errorf("inference service script not found for %s", l.config.Name)
	}

	python := l.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	l.cmd = exec.Command(python, script, "--model-dir", l.config.ModelDir)

	stdin, err := l.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := l.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	l.cmd.Stderr = os.Stderr

	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start inference service: %w", err)
	}

	l.stdin = stdin
	l.stdout = bufio.NewReader(stdout)

	line, err := l.stdout.ReadString('\n')
	if err != nil {
		l.shutdown()
		return fmt.Errorf("read ready signal: %w", err)
	}
	if line != "ready\n" {
		l.shutdown()
		return fmt.Errorf("unexpected ready signal: %q", line)
	}

	l.loaded = true
	l.poisoned = false
	return nil
}

// Infer sends the screenshot to the service and parses the element response.
// The timeout covers the full request/response round trip. On expiry the
// service is killed rather than abandoned: its late reply belongs to no one,
// and letting it sit in the pipe would hand it to the next request. The next
// Infer restarts the service.
func (l *Local) Infer(ctx context.Context, shot *capture.Screenshot, timeout time.Duration) ([]vision.Element, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		if !l.poisoned {
			return nil, ErrNotLoaded
		}
		if err := l.load(); err != nil {
			return nil, fmt.Errorf("restart inference service: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Write length (4 bytes big-endian) + image data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(shot.Data)))

	if _, err := l.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := l.stdin.Write(shot.Data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	type readResult struct {
		line string
		err  error
	}
	readCh := make(chan readResult, 1)
	go func() {
		line, err := l.stdout.ReadString('\n')
		readCh <- readResult{line: line, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-readCh:
		if res.err != nil {
			return nil, fmt.Errorf("read response: %w", res.err)
		}
		var response struct {
			Elements []jsonElement `json:"elements"`
			Error    string        `json:"error"`
		}
		if err := json.Unmarshal([]byte(res.line), &response); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if response.Error != "" {
			return nil, fmt.Errorf("inference service: %s", response.Error)
		}
		return toElements(response.Elements), nil
	case <-timer.C:
		l.poison()
		return nil, ErrTimeout
	case <-ctx.Done():
		l.poison()
		return nil, ctx.Err()
	}
}

// Unload shuts down the inference service subprocess.
func (l *Local) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdown()
}

// Descriptor returns the adapter's static capability metadata.
func (l *Local) Descriptor() Descriptor {
	return Descriptor{
		Name:        l.config.Name,
		Tier:        l.config.Tier,
		RequiresGPU: l.config.RequiresGPU,
		MinVRAMGB:   l.config.MinVRAMGB,
		MinRAMGB:    l.config.MinRAMGB,
	}
}

// poison kills the service process and tears down its pipes. The outstanding
// reader goroutine sees EOF and exits; a fresh process and reader are created
// on the next request, so the stale reply can never be delivered.
func (l *Local) poison() {
	if l.cmd != nil && l.cmd.Process != nil {
		l.cmd.Process.Kill()
	}
	l.shutdown()
	l.poisoned = true
}

func (l *Local) shutdown() error {
	if l.cmd == nil {
		return nil
	}

	if l.stdin != nil {
		l.stdin.Close()
	}

	err := l.cmd.Wait()
	l.loaded = false
	l.cmd = nil
	l.stdin = nil
	l.stdout = nil

	return err
}

// findServiceScript locates the inference service script for a model.
func findServiceScript(model string) string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	name := fmt.Sprintf("%s_service.py", model)
	candidates := []string{
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(os.Getenv("HOME"), ".nvda_vision", "scripts", name),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".nvda_vision/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
