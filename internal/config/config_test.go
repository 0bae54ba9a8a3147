package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("MICROSANDBOX_LISTEN_ADDR")
	os.Unsetenv("MICROSANDBOX_DEV_MODE")
	os.Unsetenv("MICROSANDBOX_DATA_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected listen addr :8080, got %s", cfg.ListenAddr)
	}
	if cfg.DevMode {
		t.Errorf("expected dev mode false by default")
	}
	if cfg.DataDir != "/data/microsandbox" {
		t.Errorf("expected default data dir, got %s", cfg.DataDir)
	}
	if cfg.ImagesDir != cfg.DataDir+"/images" {
		t.Errorf("expected images dir derived from data dir, got %s", cfg.ImagesDir)
	}
	if cfg.StartTimeoutSeconds != 180 {
		t.Errorf("expected start timeout 180, got %d", cfg.StartTimeoutSeconds)
	}
	if cfg.StopGracePeriodSeconds != 10 {
		t.Errorf("expected stop grace period 10, got %d", cfg.StopGracePeriodSeconds)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("MICROSANDBOX_LISTEN_ADDR", ":9999")
	os.Setenv("MICROSANDBOX_DEV_MODE", "true")
	os.Setenv("MICROSANDBOX_DATA_DIR", "/tmp/msb-data")
	defer func() {
		os.Unsetenv("MICROSANDBOX_LISTEN_ADDR")
		os.Unsetenv("MICROSANDBOX_DEV_MODE")
		os.Unsetenv("MICROSANDBOX_DATA_DIR")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.ListenAddr != ":9999" {
		t.Errorf("expected listen addr :9999, got %s", cfg.ListenAddr)
	}
	if !cfg.DevMode {
		t.Errorf("expected dev mode true")
	}
	if cfg.ImagesDir != "/tmp/msb-data/images" {
		t.Errorf("expected images dir derived from overridden data dir, got %s", cfg.ImagesDir)
	}
}

func TestLoadExplicitImagesDirWins(t *testing.T) {
	os.Setenv("MICROSANDBOX_DATA_DIR", "/tmp/msb-data")
	os.Setenv("MICROSANDBOX_IMAGES_DIR", "/custom/images")
	defer func() {
		os.Unsetenv("MICROSANDBOX_DATA_DIR")
		os.Unsetenv("MICROSANDBOX_IMAGES_DIR")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.ImagesDir != "/custom/images" {
		t.Errorf("expected explicit images dir to win, got %s", cfg.ImagesDir)
	}
}
