package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/siteup/internal/spec"
)

func TestBuildIsSorted(t *testing.T) {
	vars := Build(&spec.DeploymentSpec{AppKind: spec.KindNext, Port: 3000})
	keys := make([]string, 0, len(vars))
	for _, v := range vars {
		keys = append(keys, v.Key)
	}
	assert.Equal(t, []string{"HOST", "HOSTNAME", "NODE_ENV", "PORT"}, keys)
	assert.Equal(t, Var{Key: "PORT", Value: "3000"}, vars[3])
}

func TestMergeKeepsExistingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_KEY=base64:abc\nDATABASE_URL=mysql://keep\n"), 0600))

	changed, err := Merge(path, map[string]string{
		"DATABASE_URL": "mysql://replace",
		"DB_PASSWORD":  "s3cret pass",
	})
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql://keep", got["DATABASE_URL"])
	assert.Equal(t, "s3cret pass", got["DB_PASSWORD"])
	assert.Equal(t, "base64:abc", got["APP_KEY"])

	changed, err = Merge(path, map[string]string{"DB_PASSWORD": "other"})
	require.NoError(t, err)
	assert.False(t, changed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestReadMissingFile(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
