package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/drill/internal/config"
)

// cmdStart starts the daemon in the background
func cmdStart() error {
	if isRunning() {
		fmt.Println("✓ Daemon is already running")
		return nil
	}

	drillDir, err := config.EnsureDrillDir()
	if err != nil {
		return fmt.Errorf("setup drill directory: %w", err)
	}

	drilldPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(drilldPath)
	cmd.Dir = drillDir
	cmd.Stdout = nil
	cmd.Stderr = nil

	detachDaemon(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	if !pollUntil(3*time.Second, isRunning) {
		fmt.Println(" ✗")
		return fmt.Errorf("daemon failed to start (check logs with 'drill logs')")
	}
	fmt.Println(" ✓")
	fmt.Printf("Daemon running at %s\n", daemonAddr)
	return nil
}

// cmdStop stops the daemon
func cmdStop() error {
	if !isRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	drillDir, err := config.DrillDir()
	if err != nil {
		return err
	}

	pid, err := readPID(filepath.Join(drillDir, pidFile))
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	if !pollUntil(5*time.Second, func() bool { return !isRunning() }) {
		fmt.Println(" ✗")
		return fmt.Errorf("daemon did not stop gracefully")
	}
	fmt.Println(" ✓")
	return nil
}

// pollUntil checks cond every 100ms, printing a dot per miss, until it holds
// or limit elapses
func pollUntil(limit time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if cond() {
			return true
		}
		fmt.Print(".")
	}
	return false
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID: %w", err)
	}
	return pid, nil
}

// cmdStatus shows daemon status
func cmdStatus() error {
	if !isRunning() {
		fmt.Println("Status: stopped")
		return nil
	}

	resp, err := http.Get(daemonAddr + "/v1/status")
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		Storage       string `json:"storage"`
		Claims        string `json:"claims"`
		Queue         bool   `json:"queue"`
		Topics        int    `json:"topics"`
		Handlers      int    `json:"handlers"`
		FilterPurpose bool   `json:"filter_purpose"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	fmt.Printf("Status:    %s\n", status.Status)
	fmt.Printf("Version:   %s\n", status.Version)
	fmt.Printf("Storage:   %s\n", status.Storage)
	fmt.Printf("Claims:    %s\n", status.Claims)
	fmt.Printf("Queue:     %t\n", status.Queue)
	fmt.Printf("Topics:    %d (%d handlers)\n", status.Topics, status.Handlers)
	fmt.Printf("Address:   %s\n", daemonAddr)

	return nil
}

// cmdLogs shows daemon logs
func cmdLogs() error {
	drillDir, err := config.DrillDir()
	if err != nil {
		return err
	}

	logPath := filepath.Join(drillDir, "logs", "drilld.log")
	if _, err := os.Stat(logPath); errors.Is(err, fs.ErrNotExist) {
		fmt.Println("No log file found. Start the daemon first.")
		return nil
	}
	return tailFile(os.Stdout, logPath, logTailBytes)
}

const logTailBytes = 4096

// tailFile copies the complete lines within the last n bytes of path to w
func tailFile(w io.Writer, path string, n int64) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	offset := max(info.Size()-n, 0)
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek log file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	if offset > 0 {
		scanner.Scan() // partial line
	}
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	return scanner.Err()
}

// isRunning checks if the daemon is running by calling the health endpoint
func isRunning() bool {
	resp, err := http.Get(daemonAddr + "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findDaemonBinary locates the drilld binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("drilld"); err == nil {
		return path, nil
	}

	self, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(self), "drilld")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	locations := []string{
		"/usr/local/bin/drilld",
		"./drilld",
		"./cmd/drilld/drilld",
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("drilld binary not found (build with 'go build ./cmd/drilld')")
}
