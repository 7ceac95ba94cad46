package env

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/reviewapps-dev/siteup/internal/spec"
)

type Var struct {
	Key   string
	Value string
}

// Build returns the process environment for a supervised app, sorted by key
// so supervisor configs render identically on every run.
func Build(s *spec.DeploymentSpec) []Var {
	vars := map[string]string{
		"PORT": strconv.Itoa(s.Port),
		"HOST": "127.0.0.1",
	}
	if s.AppKind.UsesNode() {
		vars["NODE_ENV"] = "production"
	}
	if s.AppKind == spec.KindNext {
		vars["HOSTNAME"] = "127.0.0.1"
	}
	if s.AppKind == spec.KindPython {
		vars["PYTHONUNBUFFERED"] = "1"
	}
	return Sorted(vars)
}

func Sorted(m map[string]string) []Var {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Var, 0, len(keys))
	for _, k := range keys {
		out = append(out, Var{Key: k, Value: m[k]})
	}
	return out
}

// WriteFile writes a dotenv file with sorted keys, readable only by the owner.
func WriteFile(path string, envMap map[string]string) error {
	var sb strings.Builder
	for _, v := range Sorted(envMap) {
		sb.WriteString(fmt.Sprintf("%s=%s\n", v.Key, quote(v.Value)))
	}
	return os.WriteFile(path, []byte(sb.String()), 0600)
}

func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t#\"'$\\") {
		return strconv.Quote(v)
	}
	return v
}

// Merge adds keys that are missing from the dotenv file at path and leaves
// existing keys untouched. It reports whether the file changed.
func Merge(path string, add map[string]string) (bool, error) {
	current := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		current, err = godotenv.Read(path)
		if err != nil {
			return false, fmt.Errorf("env: read %s: %w", path, err)
		}
	}

	changed := false
	for k, v := range add {
		if _, ok := current[k]; ok {
			continue
		}
		current[k] = v
		changed = true
	}
	if !changed {
		return false, nil
	}
	if err := WriteFile(path, current); err != nil {
		return false, fmt.Errorf("env: write %s: %w", path, err)
	}
	return true, nil
}

// Read returns the dotenv file at path, or an empty map when it does not exist.
func Read(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	return godotenv.Read(path)
}

func GenerateSecret(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
