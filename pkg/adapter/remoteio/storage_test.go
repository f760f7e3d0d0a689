package remoteio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStorage(t *testing.T) *Storage {
	t.Helper()
	return NewStorageFs(afero.NewMemMapFs())
}

func TestStorageWriteThenRead(t *testing.T) {
	s := newMemStorage(t)
	require.NoError(t, s.CreateDirectory("/data/nested"))

	for name, data := range map[string][]byte{
		"empty": {},
		"small": []byte("hello"),
		"large": make([]byte, 1<<20),
	} {
		t.Run(name, func(t *testing.T) {
			p := "/data/nested/" + name
			require.NoError(t, s.WriteFile(p, data))

			got, found, err := s.ReadFile(p)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, len(data), len(got))
			assert.Equal(t, data, got)
		})
	}
}

func TestStorageReadMissing(t *testing.T) {
	s := newMemStorage(t)

	data, found, err := s.ReadFile("/nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestStorageReadDirectoryIsNotFound(t *testing.T) {
	s := newMemStorage(t)
	require.NoError(t, s.CreateDirectory("/dir"))

	_, found, err := s.ReadFile("/dir")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorageWriteWithoutParentFails(t *testing.T) {
	s := NewStorageFs(afero.NewOsFs())
	err := s.WriteFile(filepath.Join(t.TempDir(), "missing", "file"), []byte("x"))
	assert.Error(t, err)
}

func TestStorageExistence(t *testing.T) {
	s := newMemStorage(t)

	exists, err := s.FileExists("/f")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.WriteFile("/f", []byte("1")))
	require.NoError(t, s.CreateDirectory("/d"))

	exists, err = s.FileExists("/f")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.FileExists("/d")
	require.NoError(t, err)
	assert.False(t, exists, "directories are not files")

	exists, err = s.DirectoryExists("/d")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.DirectoryExists("/f")
	require.NoError(t, err)
	assert.False(t, exists, "files are not directories")
}

func TestStorageDeletesAreIdempotent(t *testing.T) {
	s := newMemStorage(t)

	assert.NoError(t, s.DeleteFile("/missing"))
	assert.NoError(t, s.DeleteDirectory("/missing"))

	require.NoError(t, s.CreateDirectory("/d/sub"))
	assert.NoError(t, s.CreateDirectory("/d/sub"), "creating an existing directory succeeds")

	require.NoError(t, s.WriteFile("/d/sub/f", []byte("x")))
	require.NoError(t, s.DeleteFile("/d/sub/f"))
	exists, _ := s.FileExists("/d/sub/f")
	assert.False(t, exists)

	require.NoError(t, s.DeleteDirectory("/d"))
	exists, _ = s.DirectoryExists("/d/sub")
	assert.False(t, exists)
}

func TestStorageDeleteFileIgnoresDirectory(t *testing.T) {
	s := newMemStorage(t)
	require.NoError(t, s.CreateDirectory("/d"))

	require.NoError(t, s.DeleteFile("/d"))
	exists, _ := s.DirectoryExists("/d")
	assert.True(t, exists)
}

func TestStorageFileSize(t *testing.T) {
	s := newMemStorage(t)
	require.NoError(t, s.WriteFile("/f", []byte("12345")))
	require.NoError(t, s.CreateDirectory("/d"))

	size, err := s.FileSize("/f")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = s.FileSize("/missing")
	assert.Error(t, err)

	_, err = s.FileSize("/d")
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestStorageListFiles(t *testing.T) {
	s := newMemStorage(t)
	require.NoError(t, s.CreateDirectory("/D/S"))
	require.NoError(t, s.WriteFile("/D/a", []byte("a")))
	require.NoError(t, s.WriteFile("/D/S/b", []byte("b")))
	require.NoError(t, s.WriteFile("/D/c.txt", []byte("c")))

	t.Run("recursive", func(t *testing.T) {
		files, err := s.ListFiles("/D", "", true)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join("S", "b"), "a", "c.txt"}, files)
	})

	t.Run("current", func(t *testing.T) {
		files, err := s.ListFiles("/D", "", false)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c.txt"}, files)
	})

	t.Run("pattern", func(t *testing.T) {
		files, err := s.ListFiles("/D", "*.txt", true)
		require.NoError(t, err)
		assert.Equal(t, []string{"c.txt"}, files)
	})

	t.Run("missing root", func(t *testing.T) {
		files, err := s.ListFiles("/nope", "", true)
		require.NoError(t, err)
		assert.NotNil(t, files)
		assert.Empty(t, files)
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := s.ListFiles("/D", "[", true)
		assert.Error(t, err)
	})
}

func TestNewStorageRooted(t *testing.T) {
	root := t.TempDir()
	s, err := NewStorage(root)
	require.NoError(t, err)

	require.NoError(t, s.CreateDirectory("/inner"))
	require.NoError(t, s.WriteFile("/inner/f", []byte("rooted")))

	data, err := os.ReadFile(filepath.Join(root, "inner", "f"))
	require.NoError(t, err)
	assert.Equal(t, "rooted", string(data))

	// ".." cannot climb above the root.
	require.NoError(t, s.WriteFile("/../escape", []byte("x")))
	_, err = os.Stat(filepath.Join(root, "escape"))
	assert.NoError(t, err)
}

func TestNewStorageRejectsBadRoot(t *testing.T) {
	_, err := NewStorage(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewStorage(file)
	assert.Error(t, err)
}

func TestNewStorageUnrootedUsesWorkingDirectory(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)

	s, err := NewStorage("")
	require.NoError(t, err)

	require.NoError(t, s.CreateDirectory("D/S"))
	require.NoError(t, s.WriteFile("D/a", []byte("a")))
	require.NoError(t, s.WriteFile("D/S/b", []byte("b")))

	files, err := s.ListFiles("D", "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("S", "b"), "a"}, files)

	data, err := os.ReadFile(filepath.Join(wd, "D", "S", "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))

	found, err := s.FileExists(filepath.Join(wd, "D", "a"))
	require.NoError(t, err)
	assert.True(t, found, "absolute paths resolve as given")
}
