// Package doctor runs startup diagnostics: is the config loaded, is the
// download engine reachable, is the history database path writable.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ariabot/ariabot/internal/config"
	"github.com/ariabot/ariabot/internal/engineclient"
)

// CheckResult is the outcome of a single diagnostic check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Diagnosis is the full startup diagnostic report.
type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Healthy reports whether every check passed (WARN is tolerated).
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return false
		}
	}
	return true
}

// SystemInfo is basic runtime/version metadata attached to a Diagnosis.
type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks against cfg.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkPermissions,
		checkEngine,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "Configuration missing (needs genesis)"}
	}
	if len(cfg.Telegram.AuthorizedUsers) == 0 {
		return CheckResult{Name: "Config", Status: "WARN", Message: "No authorized_users configured; every command will be denied"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.NeedsGenesis {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	dbDir := filepath.Dir(cfg.Database.Path)
	if dbDir == "" || dbDir == "." {
		dbDir = cfg.HomeDir
	}
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("database directory unwritable: %v", err)}
	}

	testFile := filepath.Join(dbDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("database directory unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: fmt.Sprintf("%s is writable", dbDir)}
}

func checkEngine(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.NeedsGenesis {
		return CheckResult{Name: "Engine", Status: "SKIP", Message: "Config missing"}
	}

	client := engineclient.New(engineclient.Config{
		BaseURL: cfg.Aria2BaseURL(),
		Secret:  cfg.Aria2.Secret,
	})

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	version, err := client.Version(probeCtx)
	if err != nil {
		return CheckResult{
			Name:    "Engine",
			Status:  "FAIL",
			Message: fmt.Sprintf("aria2 unreachable at %s: %v", cfg.Aria2BaseURL(), err),
		}
	}

	return CheckResult{
		Name:    "Engine",
		Status:  "PASS",
		Message: fmt.Sprintf("aria2 %s reachable at %s", version, cfg.Aria2BaseURL()),
	}
}
