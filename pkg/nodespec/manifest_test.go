package nodespec

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()

	nodeDir := filepath.Join(dir, name)
	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		t.Fatalf("Failed to create node dir: %v", err)
	}

	manifestPath := filepath.Join(nodeDir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	return manifestPath
}

func TestLoadManifest_ProcessDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeManifest(t, tmpDir, "vad", `
name: vad
version: 1.0.0
environment:
  MODEL_PATH: /models/vad
channel_capacity: 8
`)

	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}

	if manifest.Runtime != string(RuntimeProcess) {
		t.Errorf("Expected default runtime 'process', got '%s'", manifest.Runtime)
	}

	if !manifest.captureOutput() {
		t.Error("Expected capture_output to default to true")
	}

	if manifest.ChannelCapacity != 8 {
		t.Errorf("Expected channel_capacity 8, got %d", manifest.ChannelCapacity)
	}

	if !filepath.IsAbs(manifest.ManifestPath()) {
		t.Errorf("ManifestPath should be absolute, got: %s", manifest.ManifestPath())
	}
}

func TestLoadManifest_ContainerRequiresImage(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeManifest(t, tmpDir, "stt", `
name: stt
version: 1.0.0
runtime: container
`)

	_, err := LoadManifest(path)
	if err == nil {
		t.Fatal("Expected error for container manifest without image, got nil")
	}

	t.Logf("Got expected error: %v", err)
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		manifest *Manifest
		wantErr  bool
	}{
		{
			name: "valid process manifest",
			manifest: &Manifest{
				Name:    "vad",
				Version: "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "valid container manifest",
			manifest: &Manifest{
				Name:    "stt",
				Runtime: "container",
				Image:   "remotemedia/stt:1.2",
			},
			wantErr: false,
		},
		{
			name:     "missing name",
			manifest: &Manifest{Version: "1.0.0"},
			wantErr:  true,
		},
		{
			name: "invalid runtime",
			manifest: &Manifest{
				Name:    "stt",
				Runtime: "vm",
			},
			wantErr: true,
		},
		{
			name: "mount without target",
			manifest: &Manifest{
				Name:    "stt",
				Runtime: "container",
				Image:   "remotemedia/stt:1.2",
				Mounts:  []Mount{{Source: "/models"}},
			},
			wantErr: true,
		},
		{
			name: "negative init timeout",
			manifest: &Manifest{
				Name:            "vad",
				InitTimeoutSecs: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManifest_SpawnSpec(t *testing.T) {
	capture := false
	manifest := &Manifest{
		Name:            "stt",
		Runtime:         "process",
		Entrypoint:      "remotemedia.worker",
		Args:            []string{"--log-level", "debug"},
		Environment:     map[string]string{"MODEL": "base"},
		CaptureOutput:   &capture,
		InitTimeoutSecs: 45,
	}
	if err := manifest.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	spec := manifest.SpawnSpec("/usr/bin/python3")

	if spec.Executable != "/usr/bin/python3" {
		t.Errorf("Expected executable '/usr/bin/python3', got '%s'", spec.Executable)
	}

	if len(spec.Args) != 3 || spec.Args[0] != "remotemedia.worker" {
		t.Errorf("Expected entrypoint first in args, got %v", spec.Args)
	}

	if spec.CaptureOutput {
		t.Error("Expected capture_output override to stick")
	}

	if spec.InitTimeout != 45*time.Second {
		t.Errorf("Expected init timeout 45s, got %s", spec.InitTimeout)
	}

	if err := spec.Validate(); err != nil {
		t.Errorf("SpawnSpec should validate, got: %v", err)
	}
}

func TestSpec_Validate(t *testing.T) {
	spec := &Spec{NodeType: "stt", Runtime: RuntimeProcess}
	if err := spec.Validate(); err == nil {
		t.Error("Expected error for process spec without executable")
	}

	spec = &Spec{NodeType: "stt", Runtime: RuntimeContainer}
	if err := spec.Validate(); err == nil {
		t.Error("Expected error for container spec without image")
	}

	spec = &Spec{
		NodeType: "stt",
		Runtime:  RuntimeContainer,
		Image:    "remotemedia/stt:1.2",
		Mounts:   []Mount{{Source: "/models", Target: "models"}},
	}
	if err := spec.Validate(); err == nil {
		t.Error("Expected error for relative mount target")
	}
}

func TestSpec_PathEnv(t *testing.T) {
	spec := &Spec{ExtraPaths: []string{"/opt/remotemedia/bin"}}
	got := spec.PathEnv("/usr/bin:/bin")
	want := "/opt/remotemedia/bin:/usr/bin:/bin"
	if got != want {
		t.Errorf("PathEnv = %q, want %q", got, want)
	}

	spec = &Spec{}
	if got := spec.PathEnv("/usr/bin"); got != "/usr/bin" {
		t.Errorf("PathEnv without extras = %q, want '/usr/bin'", got)
	}
}
