package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Mode  string `yaml:"mode"`
	Extra string `yaml:"extra"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("INKPOST_TEST_SET", "value")
	t.Setenv("INKPOST_TEST_EMPTY", "")

	cases := map[string]string{
		"${INKPOST_TEST_SET}":            "value",
		"$INKPOST_TEST_SET":              "value",
		"${INKPOST_TEST_SET:-other}":     "value",
		"${INKPOST_TEST_EMPTY:-other}":   "other",
		"${INKPOST_TEST_MISSING:-fs}":    "fs",
		"${INKPOST_TEST_MISSING}":        "",
		"a-${INKPOST_TEST_MISSING:-b}-c": "a-b-c",
	}
	for in, want := range cases {
		if got := ExpandEnv(in); got != want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoad_KeepsDefaultsAndExpands(t *testing.T) {
	t.Setenv("INKPOST_TEST_NAME", "blog")
	file := filepath.Join(t.TempDir(), "config.yaml")
	data := "name: ${INKPOST_TEST_NAME}\nport: 9000\nmode: ${INKPOST_TEST_MODE:-token}\n"
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := sample{Extra: "default"}
	if err := Load(file, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := sample{Name: "blog", Port: 9000, Mode: "token", Extra: "default"}
	if cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	err := Parse("inline", []byte("name: x\n"), &sample{})
	if err == nil || !strings.Contains(err.Error(), "port is required") {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &sample{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if err := Parse("inline", []byte("port: [1,"), &sample{}); err == nil {
		t.Fatal("expected parse error")
	}
}
